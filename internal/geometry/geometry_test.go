package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	assert.Equal(t, 5.0, Distance(Point{0, 0}, Point{3, 4}))
	assert.Equal(t, 0.0, Distance(Point{2, 2}, Point{2, 2}))
}

func TestMean(t *testing.T) {
	assert.Equal(t, Point{}, Mean(nil))
	assert.Equal(t, Point{X: 2, Y: 3}, Mean([]Point{{0, 0}, {4, 6}}))
}

func TestBounds(t *testing.T) {
	r := Bounds([]Point{{3, 1}, {-1, 4}, {2, -2}})
	assert.Equal(t, Rect{MinX: -1, MinY: -2, MaxX: 3, MaxY: 4}, r)
	assert.Equal(t, 4.0, r.Width())
	assert.Equal(t, 6.0, r.Height())
}

func TestAspectRatio(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		ratio  float64
		ok     bool
	}{
		{"Wide box", []Point{{0, 0}, {30, 10}}, 1.0 / 3, true},
		{"Square box", []Point{{0, 0}, {5, 5}}, 1, true},
		{"Zero width", []Point{{1, 0}, {1, 10}}, 0, false},
		{"Empty", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, ok := AspectRatio(tt.points)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.ratio, ratio, 1e-9)
		})
	}
}

func TestRelativeDifference(t *testing.T) {
	d, ok := RelativeDifference(6, 4)
	assert.True(t, ok)
	assert.InDelta(t, 0.4, d, 1e-9)

	_, ok = RelativeDifference(0, 0)
	assert.False(t, ok)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0.05, 0.1, 0.5))
	assert.Equal(t, 100.0, Percent(0.9, 0.1, 0.5))
	assert.InDelta(t, 50.0, Percent(0.3, 0.1, 0.5), 1e-9)
	assert.Equal(t, 0.0, Percent(1, 2, 2))
	assert.False(t, math.IsNaN(Percent(math.Inf(1), 0, 1)))
}
