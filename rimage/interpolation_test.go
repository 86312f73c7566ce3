package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestBilinearInterpolationFloat(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		0, 10, 20,
		100, 110, 120,
	})
	v, ok := BilinearInterpolationFloat(m, 0.5, 0.5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 55)

	v, ok = BilinearInterpolationFloat(m, 2, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 120)

	v, ok = BilinearInterpolationFloat(m, 1.25, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 12.5)

	_, ok = BilinearInterpolationFloat(m, -0.1, 0)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = BilinearInterpolationFloat(m, 0, 1.01)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestBilinearInterpolationNRGBA(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{0, 0, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{200, 100, 50, 255})

	c, ok := BilinearInterpolationNRGBA(img, 0.5, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.NRGBA{100, 50, 25, 255})

	c, ok = BilinearInterpolationNRGBA(img, 1, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.NRGBA{200, 100, 50, 255})

	_, ok = BilinearInterpolationNRGBA(img, 1.5, 0)
	test.That(t, ok, test.ShouldBeFalse)
}
