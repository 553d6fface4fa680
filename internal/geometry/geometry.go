package geometry

import "math"

// Point is a 2D image coordinate, y growing downwards.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Distance returns the euclidean distance between two points.
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}

// Mean returns the centroid of the points. An empty slice yields the origin.
func Mean(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sum Point
	for _, p := range points {
		sum.X += p.X
		sum.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: sum.X / n, Y: sum.Y / n}
}

// Rect is an axis aligned bounding box.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Bounds returns the bounding box of the points.
func Bounds(points []Point) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	r := Rect{MinX: points[0].X, MaxX: points[0].X, MinY: points[0].Y, MaxY: points[0].Y}
	for _, p := range points[1:] {
		r.MinX = math.Min(r.MinX, p.X)
		r.MaxX = math.Max(r.MaxX, p.X)
		r.MinY = math.Min(r.MinY, p.Y)
		r.MaxY = math.Max(r.MaxY, p.Y)
	}
	return r
}

// AspectRatio returns height/width of the points' bounding box.
// ok is false when the box has no usable width.
func AspectRatio(points []Point) (ratio float64, ok bool) {
	b := Bounds(points)
	if b.Width() <= 0 || math.IsNaN(b.Width()) {
		return 0, false
	}
	return b.Height() / b.Width(), true
}

// RelativeDifference returns |a-b| divided by their mean.
// ok is false when the mean is zero.
func RelativeDifference(a, b float64) (diff float64, ok bool) {
	avg := (a + b) / 2
	if avg == 0 {
		return 0, false
	}
	return math.Abs(a-b) / avg, true
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Percent maps v linearly from [lo, hi] onto [0, 100], clamped.
func Percent(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return Clamp((v-lo)/(hi-lo)*100, 0, 100)
}
