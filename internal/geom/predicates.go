package geom

import "math"

// The three validity predicates below decide whether a reflection's rotation
// geometry is good enough for profile measurement. Each exists in two forms:
// a canonical function over raw vectors and a thin wrapper that reads the
// same quantities from a prebuilt CoordinateSystem.

// IsZetaValid reports whether the zeta factor computed from the rotation axis
// m2, incident beam s0 and diffracted beam s1 has magnitude at least zetaMin.
func IsZetaValid(m2, s0, s1 Vec3, zetaMin float64) bool {
	return math.Abs(ZetaFactor(m2, s0, s1)) >= zetaMin
}

// IsZetaValidCS is IsZetaValid for a prebuilt coordinate system.
func IsZetaValidCS(cs CoordinateSystem, zetaMin float64) bool {
	return math.Abs(cs.Zeta()) >= zetaMin
}

// IsSmallAngleValid reports whether the small-angle approximation used by the
// profile transform holds for a reflection with mosaic half-width deltaM
// (mosaicity × n_sigma). The linearized angle mapping is valid when
//
//	(m2·e1)² + 2·c3·(m2·e3)·(m2·p*) − c3² >= 0
//
// with c3 = −|deltaM|.
func IsSmallAngleValid(m2, s0, s1 Vec3, deltaM float64) bool {
	ps := s1.Sub(s0).Normalize()
	e1 := s1.Cross(s0).Normalize()
	e3 := s1.Add(s0).Normalize()
	return smallAngleValid(m2.Dot(e1), m2.Dot(e3), m2.Dot(ps), deltaM)
}

// IsSmallAngleValidCS is IsSmallAngleValid for a prebuilt coordinate system.
func IsSmallAngleValidCS(cs CoordinateSystem, deltaM float64) bool {
	m2 := cs.M2()
	ps := cs.PStar().Normalize()
	return smallAngleValid(m2.Dot(cs.E1Axis()), m2.Dot(cs.E3Axis()), m2.Dot(ps), deltaM)
}

func smallAngleValid(m2e1, m2e3, m2ps, deltaM float64) bool {
	c3 := -math.Abs(deltaM)
	return m2e1*m2e1+2.0*c3*m2e3*m2ps-c3*c3 >= 0.0
}

// IsAngleValid reports whether the full mosaic rotation interval
// [−|deltaM|, |deltaM|] can be mapped onto the reflection's local frame. The
// two rotation angles at which the reflection enters and leaves the
// reflecting condition are the roots of a quadratic in tan(φ/2); the interval
// must lie entirely between them. When m2·e1 == 0 the rotation trajectory is
// tangent to the measurement axis and the reflection is degenerate: the
// predicate returns false immediately.
func IsAngleValid(m2, s0, s1 Vec3, deltaM float64) bool {
	ps := s1.Sub(s0).Normalize()
	e1 := s1.Cross(s0).Normalize()
	e3 := s1.Add(s0).Normalize()
	return angleValid(m2.Dot(e1), m2.Dot(e3), m2.Dot(ps), deltaM)
}

// IsAngleValidCS is IsAngleValid for a prebuilt coordinate system.
func IsAngleValidCS(cs CoordinateSystem, deltaM float64) bool {
	m2 := cs.M2()
	ps := cs.PStar().Normalize()
	return angleValid(m2.Dot(cs.E1Axis()), m2.Dot(cs.E3Axis()), m2.Dot(ps), deltaM)
}

func angleValid(m2e1, m2e3, m2ps, deltaM float64) bool {
	if m2e1 == 0 {
		return false
	}
	p := m2e3 * m2ps
	rt := math.Sqrt(m2e1*m2e1 + p*p)
	dphi0 := 2.0 * math.Atan((p+rt)/m2e1)
	dphi1 := 2.0 * math.Atan((p-rt)/m2e1)
	if dphi0 > dphi1 {
		dphi0, dphi1 = dphi1, dphi0
	}
	deltaM = math.Abs(deltaM)
	return dphi0 <= -deltaM && dphi1 >= deltaM
}
