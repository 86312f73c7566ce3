package calibration

import (
	"image"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage/transform"
)

// Model is a fitted camera: shared intrinsics and distortion, and the pose of the board in every view that
// contributed to the fit.
type Model struct {
	Camera *transform.PinholeCameraModel
	// Poses holds one pose per contributing view.
	Poses []transform.Pose
	// ViewIndices holds, for each pose, the index of its view in the calibration input. It is empty for
	// models read back from an artifact.
	ViewIndices []int
	RMS         float64
	Flags       FlagSet
}

// Intrinsics returns the pinhole intrinsics of the model.
func (m *Model) Intrinsics() *transform.PinholeCameraIntrinsics {
	return m.Camera.PinholeCameraIntrinsics
}

// CameraMatrix returns the 3x3 camera matrix K.
func (m *Model) CameraMatrix() *mat.Dense {
	return m.Camera.GetCameraMatrix()
}

// DistortionCoefficients returns k1, k2, p1, p2[, k3[, k4, k5, k6]].
func (m *Model) DistortionCoefficients() []float64 {
	if m.Camera.Distortion == nil {
		return []float64{0, 0, 0, 0, 0}
	}
	return m.Camera.Distortion.Parameters()
}

// ImageSize is the resolution the model was fit at.
func (m *Model) ImageSize() image.Point {
	return image.Pt(m.Camera.Width, m.Camera.Height)
}

// ExtrinsicMatrices returns the 3x4 [R | t] matrix of every pose.
func (m *Model) ExtrinsicMatrices() []*mat.Dense {
	out := make([]*mat.Dense, len(m.Poses))
	for i, p := range m.Poses {
		out[i] = p.Matrix()
	}
	return out
}

// CameraAt returns the camera for images of the given size. Models read from an artifact without an image
// size take the size of the image; other models must have been fit at that size.
func (m *Model) CameraAt(size image.Point) (*transform.PinholeCameraModel, error) {
	if m == nil || m.Camera == nil || m.Camera.PinholeCameraIntrinsics == nil {
		return nil, ErrNotCalibrated
	}
	if m.Camera.Width == size.X && m.Camera.Height == size.Y {
		return m.Camera, nil
	}
	if m.Camera.Width != 0 || m.Camera.Height != 0 {
		return nil, NewInputError("image is %v, the camera was calibrated at %v", size, m.ImageSize())
	}
	intrinsics := *m.Camera.PinholeCameraIntrinsics
	intrinsics.Width, intrinsics.Height = size.X, size.Y
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: &intrinsics, Distortion: m.Camera.Distortion}, nil
}

// UndistortImage removes the lens distortion of img. The output has the size of img and uses the camera
// matrix given by OptimalNewCameraMatrix with alpha.
func (m *Model) UndistortImage(img image.Image, alpha float64) (image.Image, error) {
	if img == nil {
		return nil, NewInputError("no image given")
	}
	size := img.Bounds().Size()
	camera, err := m.CameraAt(size)
	if err != nil {
		return nil, err
	}
	newIntrinsics, _, err := camera.OptimalNewCameraMatrix(size, alpha)
	if err != nil {
		return nil, NewInputError("%v", err)
	}
	return camera.UndistortImage(img, newIntrinsics)
}
