// Package landmarks holds the 68-point facial landmark layout produced by
// the external detector and typed accessors for its regions.
package landmarks

import "github.com/SoarinFerret/FocusWarden/internal/geometry"

// Count is the number of points in a complete landmark set.
const Count = 68

// Region index ranges, half-open.
var (
	jawRange      = [2]int{0, 17}
	noseRange     = [2]int{27, 36}
	leftEyeRange  = [2]int{36, 42}
	rightEyeRange = [2]int{42, 48}
	mouthRange    = [2]int{48, 68}
)

// Landmarks is anything that exposes the raw detected positions.
type Landmarks interface {
	Points() []geometry.Point
}

// RegionExtractor splits a landmark set into named facial regions.
type RegionExtractor interface {
	LeftEye() []geometry.Point
	RightEye() []geometry.Point
	Mouth() []geometry.Point
	Nose() []geometry.Point
	JawOutline() []geometry.Point
}

// Positions is a bare point list with no knowledge of the facial layout.
type Positions []geometry.Point

func (p Positions) Points() []geometry.Point { return p }

// FaceLandmarks is one detected face. It is read-only once produced.
type FaceLandmarks struct {
	Positions []geometry.Point `json:"positions" msgpack:"positions"`
}

var (
	_ Landmarks       = (*FaceLandmarks)(nil)
	_ RegionExtractor = (*FaceLandmarks)(nil)
)

// New wraps the points as a FaceLandmarks value.
func New(points []geometry.Point) *FaceLandmarks {
	return &FaceLandmarks{Positions: points}
}

func (f *FaceLandmarks) Points() []geometry.Point {
	if f == nil {
		return nil
	}
	return f.Positions
}

// Valid reports whether the set holds exactly Count points.
func (f *FaceLandmarks) Valid() bool {
	return f != nil && len(f.Positions) == Count
}

func (f *FaceLandmarks) region(r [2]int) []geometry.Point {
	if f == nil || len(f.Positions) < r[1] {
		return nil
	}
	return f.Positions[r[0]:r[1]]
}

func (f *FaceLandmarks) JawOutline() []geometry.Point { return f.region(jawRange) }
func (f *FaceLandmarks) Nose() []geometry.Point       { return f.region(noseRange) }
func (f *FaceLandmarks) LeftEye() []geometry.Point    { return f.region(leftEyeRange) }
func (f *FaceLandmarks) RightEye() []geometry.Point   { return f.region(rightEyeRange) }
func (f *FaceLandmarks) Mouth() []geometry.Point      { return f.region(mouthRange) }

// Clone returns a deep copy.
func (f *FaceLandmarks) Clone() *FaceLandmarks {
	if f == nil {
		return nil
	}
	pts := make([]geometry.Point, len(f.Positions))
	copy(pts, f.Positions)
	return &FaceLandmarks{Positions: pts}
}
