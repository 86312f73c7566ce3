package calibration

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/rimage/transform"
)

func TestModelCameraAt(t *testing.T) {
	model := &Model{Camera: syntheticCamera(t, 800, 800, []float64{-0.1, 0.01, 0, 0, 0})}

	camera, err := model.CameraAt(testSize)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, camera, test.ShouldEqual, model.Camera)

	_, err = model.CameraAt(image.Pt(320, 240))
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	// models without a size adopt the size of the image
	model.Camera.Width, model.Camera.Height = 0, 0
	camera, err = model.CameraAt(image.Pt(320, 240))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, camera.Width, test.ShouldEqual, 320.)
	test.That(t, camera.Fx, test.ShouldEqual, 800.)
	test.That(t, model.ImageSize(), test.ShouldResemble, image.Point{})

	_, err = (&Model{}).CameraAt(testSize)
	test.That(t, err, test.ShouldBeError, ErrNotCalibrated)
}

func TestModelUndistortImage(t *testing.T) {
	model := &Model{Camera: syntheticCamera(t, 800, 800, []float64{-0.1, 0.01, 0, 0, 0})}
	img := image.NewGray(image.Rect(0, 0, testSize.X, testSize.Y))

	out, err := model.UndistortImage(img, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())

	_, err = model.UndistortImage(img, 2)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
	_, err = model.UndistortImage(nil, 1)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
}

func TestModelAccessors(t *testing.T) {
	model := &Model{
		Camera: syntheticCamera(t, 800, 780, nil),
		Poses:  []transform.Pose{{}, {}},
	}
	k := model.CameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 800.)
	test.That(t, k.At(1, 1), test.ShouldEqual, 780.)
	test.That(t, k.At(0, 2), test.ShouldEqual, 320.)
	test.That(t, model.DistortionCoefficients(), test.ShouldResemble, []float64{0, 0, 0, 0, 0})
	test.That(t, model.ExtrinsicMatrices(), test.ShouldHaveLength, 2)
	r, c := model.ExtrinsicMatrices()[0].Dims()
	test.That(t, []int{r, c}, test.ShouldResemble, []int{3, 4})
}
