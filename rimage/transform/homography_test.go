package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestEstimateHomography(t *testing.T) {
	truth := Homography{
		{1.2, 0.1, 30},
		{-0.05, 0.95, 12},
		{0.0004, -0.0002, 1},
	}
	var src, dst []r2.Point
	for y := 0.; y < 5; y++ {
		for x := 0.; x < 7; x++ {
			p := r2.Point{X: x * 25, Y: y * 25}
			src = append(src, p)
			dst = append(dst, truth.Apply(p))
		}
	}
	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, h.At(i, j), test.ShouldAlmostEqual, truth[i][j], 1e-6)
		}
	}

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	back := inv.Apply(h.Apply(r2.Point{X: 13, Y: 41}))
	test.That(t, back.X, test.ShouldAlmostEqual, 13, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, 41, 1e-9)
}

func TestEstimateHomographyDegenerate(t *testing.T) {
	_, err := EstimateHomography([]r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = EstimateHomography([]r2.Point{{X: 0, Y: 0}}, []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}})
	test.That(t, err, test.ShouldNotBeNil)

	collinear := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}, {X: 4, Y: 0}}
	_, err = EstimateHomography(collinear, collinear)
	test.That(t, err, test.ShouldNotBeNil)
}
