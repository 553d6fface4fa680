package landmarks

import (
	"math"

	"github.com/SoarinFerret/FocusWarden/internal/geometry"
)

// FaceParams shapes a synthetic frontal face. Units are pixels on a face
// roughly 120px wide centred at x=100.
type FaceParams struct {
	// EyeAperture is the vertical span of each eye (width is 30).
	EyeAperture float64
	// MouthAperture is the vertical lip span (width is 40).
	MouthAperture float64
	// NoseOffset shifts the nose horizontally, simulating head rotation.
	NoseOffset float64
}

// DefaultFaceParams describes an attentive learner: open eyes, closed mouth,
// facing the screen.
func DefaultFaceParams() FaceParams {
	return FaceParams{EyeAperture: 10, MouthAperture: 12}
}

// Frontal returns Synthetic(DefaultFaceParams()).
func Frontal() *FaceLandmarks {
	return Synthetic(DefaultFaceParams())
}

// Synthetic builds a complete 68-point face from p.
func Synthetic(p FaceParams) *FaceLandmarks {
	pts := make([]geometry.Point, 0, Count)

	// jaw 0..16: half ellipse from the left temple under the chin to the right
	for i := 0; i < 17; i++ {
		theta := math.Pi * float64(i) / 16
		pts = append(pts, geometry.Point{X: 100 - 60*math.Cos(theta), Y: 80 + 70*math.Sin(theta)})
	}

	// brows 17..26
	for i := 0; i < 5; i++ {
		pts = append(pts, geometry.Point{X: 60 + float64(i)*7.5, Y: 55})
	}
	for i := 0; i < 5; i++ {
		pts = append(pts, geometry.Point{X: 110 + float64(i)*7.5, Y: 55})
	}

	// nose 27..35: bridge then base
	dx := p.NoseOffset
	for i := 0; i < 4; i++ {
		pts = append(pts, geometry.Point{X: 100 + dx, Y: 70 + float64(i)*10})
	}
	for i := 0; i < 5; i++ {
		pts = append(pts, geometry.Point{X: 90 + dx + float64(i)*5, Y: 105})
	}

	// eyes 36..47
	pts = append(pts, eye(75, 70, p.EyeAperture)...)
	pts = append(pts, eye(125, 70, p.EyeAperture)...)

	// mouth 48..67
	pts = append(pts, mouth(100, 125, p.MouthAperture)...)

	return &FaceLandmarks{Positions: pts}
}

func eye(cx, cy, h float64) []geometry.Point {
	return []geometry.Point{
		{X: cx - 15, Y: cy},
		{X: cx - 7, Y: cy - h/2},
		{X: cx + 7, Y: cy - h/2},
		{X: cx + 15, Y: cy},
		{X: cx + 7, Y: cy + h/2},
		{X: cx - 7, Y: cy + h/2},
	}
}

func mouth(cx, cy, h float64) []geometry.Point {
	top, bottom := cy-h/2, cy+h/2
	return []geometry.Point{
		// outer lip 48..59, corners at 48 and 54
		{X: cx - 20, Y: cy},
		{X: cx - 13, Y: math.Min(top+2, cy)},
		{X: cx - 6, Y: top},
		{X: cx, Y: top},
		{X: cx + 6, Y: top},
		{X: cx + 13, Y: math.Min(top+2, cy)},
		{X: cx + 20, Y: cy},
		{X: cx + 13, Y: math.Max(bottom-2, cy)},
		{X: cx + 6, Y: bottom},
		{X: cx, Y: bottom},
		{X: cx - 6, Y: bottom},
		{X: cx - 13, Y: math.Max(bottom-2, cy)},
		// inner lip 60..67
		{X: cx - 16, Y: cy},
		{X: cx - 6, Y: cy - h/4},
		{X: cx, Y: cy - h/4},
		{X: cx + 6, Y: cy - h/4},
		{X: cx + 16, Y: cy},
		{X: cx + 6, Y: cy + h/4},
		{X: cx, Y: cy + h/4},
		{X: cx - 6, Y: cy + h/4},
	}
}
