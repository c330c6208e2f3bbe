// Package refl holds the candidate reflection model and the validity filter
// pipeline run over reflection lists after spot prediction. Each filter pass
// borrows the list exclusively, reads geometry or position fields, and may
// overwrite the per-reflection Valid flag; passes communicate through nothing
// else.
package refl

import (
	"errors"

	"github.com/xtal-data/spotsieve/internal/geom"
)

// ErrInvalidArgument marks parameter errors detected before a pass touches
// any reflection.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrPrecondition marks input lists a pass cannot operate on, such as a
// degenerate bounding-box volume range. The pass aborts with no flags
// changed.
var ErrPrecondition = errors.New("precondition violated")

// ErrNotImplemented marks capabilities that are declared but deliberately not
// available yet.
var ErrNotImplemented = errors.New("not implemented")

// BBox is the half-open 3D extent presumed to contain a reflection's signal:
// [X0,X1) × [Y0,Y1) in detector pixels, [Z0,Z1) in frames. Callers must
// supply X1 > X0, Y1 > Y0, Z1 > Z0.
type BBox struct {
	X0, X1, Y0, Y1, Z0, Z1 int
}

// Volume returns the number of pixels×frames covered by the box.
func (b BBox) Volume() int {
	return (b.X1 - b.X0) * (b.Y1 - b.Y0) * (b.Z1 - b.Z0)
}

// Reflection is one candidate diffraction spot. The filter passes read every
// field except Valid and write only Valid.
type Reflection struct {
	BeamVector  geom.Vec3  // diffracted beam vector s1
	BBox        BBox       // presumed signal extent
	Centroid    geom.Vec3  // observed centroid (x px, y px, frame)
	ImageCoord  [2]float64 // predicted position in detector pixels
	FrameNumber float64    // predicted frame
	Valid       bool
}
