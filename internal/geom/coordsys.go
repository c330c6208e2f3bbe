package geom

// CoordinateSystem is the per-reflection local frame built by the profile
// transform machinery. It is constructed elsewhere; the predicates here only
// read from it. All vectors are expressed in the lab frame.
//
// e1 is perpendicular to the incident and diffracted beams, e3 bisects them,
// and p* is the reciprocal-space vector of the reflection. Zeta is the
// projection of the rotation axis onto e1.
type CoordinateSystem interface {
	Zeta() float64
	M2() Vec3
	PStar() Vec3
	E1Axis() Vec3
	E3Axis() Vec3
}

// ZetaFactor computes the zeta factor for a reflection: the projection of the
// rotation axis m2 onto the e1 axis of the reflection's local frame, where
// e1 = normalize(s1 × s0). Reflections with |zeta| near zero move through the
// reflecting condition too slowly to measure well.
func ZetaFactor(m2, s0, s1 Vec3) float64 {
	return m2.Dot(s1.Cross(s0).Normalize())
}
