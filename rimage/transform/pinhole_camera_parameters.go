package transform

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraModel is the model of a pinhole camera.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// CheckValid checks the intrinsics and, when present, the distortion model.
func (params *PinholeCameraModel) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("camera model does not exist")
	}
	if err := params.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return err
	}
	if params.Distortion != nil {
		return params.Distortion.CheckValid()
	}
	return nil
}

// DistortionMap is a function that transforms the undistorted input points (u,v) to the distorted points (x,y)
// according to the model in PinholeCameraModel.Distortion.
func (params *PinholeCameraModel) DistortionMap() func(u, v float64) (float64, float64) {
	return params.distortionMapFrom(params.PinholeCameraIntrinsics)
}

// distortionMapFrom is DistortionMap where the undistorted pixels (u,v) are expressed with the intrinsics
// newParams, while the distorted pixels keep the model's own intrinsics.
func (params *PinholeCameraModel) distortionMapFrom(newParams *PinholeCameraIntrinsics) func(u, v float64) (float64, float64) {
	return func(u, v float64) (float64, float64) {
		x := (u - newParams.Ppx) / newParams.Fx
		y := (v - newParams.Ppy) / newParams.Fy
		if params.Distortion != nil {
			x, y = params.Distortion.Transform(x, y)
		}
		x = x*params.Fx + params.Ppx
		y = y*params.Fy + params.Ppy
		return x, y
	}
}

// ProjectPoint projects a 3D point expressed in the target frame to a distorted pixel, seen from the camera
// at the given pose.
func (params *PinholeCameraModel) ProjectPoint(pose Pose, pt r3.Vector) r2.Point {
	pc := pose.Transform(pt)
	x, y := pc.X/pc.Z, pc.Y/pc.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return r2.Point{X: params.Fx*x + params.Ppx, Y: params.Fy*y + params.Ppy}
}

// UndistortPoint maps a distorted pixel to the pixel it would occupy in an ideal pinhole camera with the same
// intrinsics.
func (params *PinholeCameraModel) UndistortPoint(pt r2.Point) r2.Point {
	x := (pt.X - params.Ppx) / params.Fx
	y := (pt.Y - params.Ppy) / params.Fy
	x, y = params.undistortNormalized(x, y)
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

func (params *PinholeCameraModel) undistortNormalized(x, y float64) (float64, float64) {
	if params.Distortion == nil {
		return x, y
	}
	if inv, ok := params.Distortion.(interface {
		Undistort(x, y float64) (float64, float64)
	}); ok {
		return inv.Undistort(x, y)
	}
	return x, y
}

// MarshalJSON writes the distortion with its model type so it can be read back.
func (params *PinholeCameraModel) MarshalJSON() ([]byte, error) {
	type distortion struct {
		Type       DistortionType `json:"type"`
		Parameters []float64      `json:"parameters"`
	}
	out := struct {
		Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
		Distortion *distortion              `json:"distortion,omitempty"`
	}{Intrinsics: params.PinholeCameraIntrinsics}
	if params.Distortion != nil {
		out.Distortion = &distortion{params.Distortion.ModelType(), params.Distortion.Parameters()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a model written by MarshalJSON.
func (params *PinholeCameraModel) UnmarshalJSON(data []byte) error {
	var in struct {
		Intrinsics *PinholeCameraIntrinsics `json:"intrinsic_parameters"`
		Distortion *struct {
			Type       DistortionType `json:"type"`
			Parameters []float64      `json:"parameters"`
		} `json:"distortion"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	params.PinholeCameraIntrinsics = in.Intrinsics
	params.Distortion = nil
	if in.Distortion != nil {
		d, err := NewDistorter(in.Distortion.Type, in.Distortion.Parameters)
		if err != nil {
			return err
		}
		params.Distortion = d
	}
	return nil
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 || math.IsNaN(params.Fx) || math.IsInf(params.Fx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 || math.IsNaN(params.Fy) || math.IsInf(params.Fy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if math.IsNaN(params.Ppx) || math.IsInf(params.Ppx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if math.IsNaN(params.Ppy) || math.IsInf(params.Ppy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy out of a 3x3 camera matrix. Skew is ignored.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	if k.At(2, 2) == 0 {
		return nil, errors.New("camera matrix is not normalized, K[2][2] == 0")
	}
	s := k.At(2, 2)
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0) / s,
		Fy:     k.At(1, 1) / s,
		Ppx:    k.At(0, 2) / s,
		Ppy:    k.At(1, 2) / s,
	}, nil
}
