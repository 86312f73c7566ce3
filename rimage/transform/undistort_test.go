package transform

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func undistortTestModel(t *testing.T, coeffs []float64) *PinholeCameraModel {
	t.Helper()
	bc, err := NewBrownConrady(coeffs)
	test.That(t, err, test.ShouldBeNil)
	return &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 64, Height: 48, Fx: 60, Fy: 60, Ppx: 31.5, Ppy: 23.5},
		Distortion:              bc,
	}
}

func TestOptimalNewCameraMatrixWithoutDistortion(t *testing.T) {
	model := undistortTestModel(t, nil)
	for _, alpha := range []float64{0, 0.5, 1} {
		k, roi, err := model.OptimalNewCameraMatrix(image.Pt(64, 48), alpha)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, k.Fx, test.ShouldAlmostEqual, 60, 1e-9)
		test.That(t, k.Fy, test.ShouldAlmostEqual, 60, 1e-9)
		test.That(t, k.Ppx, test.ShouldAlmostEqual, 31.5, 1e-9)
		test.That(t, k.Ppy, test.ShouldAlmostEqual, 23.5, 1e-9)
		test.That(t, roi, test.ShouldResemble, image.Rect(0, 0, 64, 48))
	}

	_, _, err := model.OptimalNewCameraMatrix(image.Pt(64, 48), 1.5)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOptimalNewCameraMatrixBarrel(t *testing.T) {
	model := undistortTestModel(t, []float64{-0.3, 0.05, 0, 0, 0})
	all, _, err := model.OptimalNewCameraMatrix(image.Pt(64, 48), 1)
	test.That(t, err, test.ShouldBeNil)
	valid, roi, err := model.OptimalNewCameraMatrix(image.Pt(64, 48), 0)
	test.That(t, err, test.ShouldBeNil)
	// keeping every source pixel needs a wider field of view than cropping to valid pixels
	test.That(t, all.Fx, test.ShouldBeLessThan, valid.Fx)
	test.That(t, roi.Empty(), test.ShouldBeFalse)
}

func TestUndistortImageIdentity(t *testing.T) {
	model := undistortTestModel(t, nil)
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 3), uint8(y * 5), 100, 255})
		}
	}
	out, err := model.UndistortImage(img, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	test.That(t, out.Pix, test.ShouldResemble, img.Pix)

	_, err = model.UndistortImage(image.NewNRGBA(image.Rect(0, 0, 10, 10)), nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = model.UndistortImage(nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestUndistortionMapStraightensLines(t *testing.T) {
	model := undistortTestModel(t, []float64{-0.2, 0, 0, 0, 0})
	m, err := model.NewUndistortionMap(nil)
	test.That(t, err, test.ShouldBeNil)
	// with the camera's own intrinsics the map samples the distortion map at every pixel
	dm := model.DistortionMap()
	for _, px := range [][2]int{{31, 23}, {0, 0}, {12, 10}, {50, 40}} {
		x, y := dm(float64(px[0]), float64(px[1]))
		idx := px[1]*m.Width + px[0]
		test.That(t, m.MapX[idx], test.ShouldAlmostEqual, x, 1e-9)
		test.That(t, m.MapY[idx], test.ShouldAlmostEqual, y, 1e-9)
	}
	// pixels next to the principal point barely move
	idx := 23*m.Width + 31
	test.That(t, m.MapX[idx], test.ShouldAlmostEqual, 31, 1e-3)
	test.That(t, m.MapY[idx], test.ShouldAlmostEqual, 23, 1e-3)

	// the map and the point undistortion are inverses
	src := r2.Point{X: m.MapX[10*m.Width+12], Y: m.MapY[10*m.Width+12]}
	back := model.UndistortPoint(src)
	test.That(t, back.X, test.ShouldAlmostEqual, 12, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, 10, 1e-6)
}
