package transform

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/utils"
)

// DefaultAlpha keeps the whole source field of view when computing a new camera matrix.
const DefaultAlpha = 1.0

// optimalGridSize is the number of samples per image side used to trace the undistorted image border.
const optimalGridSize = 9

// OptimalNewCameraMatrix computes the camera matrix of the undistorted image for a source image of the given
// size. alpha = 0 scales the result so every output pixel is valid, alpha = 1 keeps every source pixel in the
// output (with black borders). The second return value is the rectangle of all-valid output pixels.
func (params *PinholeCameraModel) OptimalNewCameraMatrix(
	size image.Point, alpha float64,
) (*PinholeCameraIntrinsics, image.Rectangle, error) {
	if err := params.CheckValid(); err != nil {
		return nil, image.Rectangle{}, err
	}
	if alpha < 0 || alpha > 1 || math.IsNaN(alpha) {
		return nil, image.Rectangle{}, errors.Errorf("alpha must be in [0, 1], got %v", alpha)
	}
	if size.X < 2 || size.Y < 2 {
		return nil, image.Rectangle{}, errors.Errorf("image size must be at least 2x2, got %v", size)
	}
	inner, outer := params.undistortedBounds(size)

	w, h := float64(size.X-1), float64(size.Y-1)
	fx0, fy0 := w/(inner.maxX-inner.minX), h/(inner.maxY-inner.minY)
	cx0, cy0 := -fx0*inner.minX, -fy0*inner.minY
	fx1, fy1 := w/(outer.maxX-outer.minX), h/(outer.maxY-outer.minY)
	cx1, cy1 := -fx1*outer.minX, -fy1*outer.minY

	out := &PinholeCameraIntrinsics{
		Width:  size.X,
		Height: size.Y,
		Fx:     fx0*(1-alpha) + fx1*alpha,
		Fy:     fy0*(1-alpha) + fy1*alpha,
		Ppx:    cx0*(1-alpha) + cx1*alpha,
		Ppy:    cy0*(1-alpha) + cy1*alpha,
	}
	if err := out.CheckValid(); err != nil {
		return nil, image.Rectangle{}, errors.Wrap(err, "distortion is too strong to compute a new camera matrix")
	}

	roi := image.Rect(
		int(math.Ceil(inner.minX*out.Fx+out.Ppx-1e-9)),
		int(math.Ceil(inner.minY*out.Fy+out.Ppy-1e-9)),
		int(math.Floor(inner.maxX*out.Fx+out.Ppx+1e-9))+1,
		int(math.Floor(inner.maxY*out.Fy+out.Ppy+1e-9))+1,
	).Intersect(image.Rect(0, 0, size.X, size.Y))
	return out, roi, nil
}

type normalizedRect struct {
	minX, minY, maxX, maxY float64
}

// undistortedBounds undistorts a grid of pixels spanning the image and returns the largest rectangle inside
// the undistorted border (inner) and the smallest rectangle containing it (outer), in normalized coordinates.
func (params *PinholeCameraModel) undistortedBounds(size image.Point) (normalizedRect, normalizedRect) {
	inner := normalizedRect{math.Inf(-1), math.Inf(-1), math.Inf(1), math.Inf(1)}
	outer := normalizedRect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	last := optimalGridSize - 1
	for j := 0; j <= last; j++ {
		v := float64(j) * float64(size.Y-1) / float64(last)
		for i := 0; i <= last; i++ {
			u := float64(i) * float64(size.X-1) / float64(last)
			x, y := params.undistortNormalized((u-params.Ppx)/params.Fx, (v-params.Ppy)/params.Fy)
			outer.minX, outer.maxX = math.Min(outer.minX, x), math.Max(outer.maxX, x)
			outer.minY, outer.maxY = math.Min(outer.minY, y), math.Max(outer.maxY, y)
			if i == 0 {
				inner.minX = math.Max(inner.minX, x)
			}
			if i == last {
				inner.maxX = math.Min(inner.maxX, x)
			}
			if j == 0 {
				inner.minY = math.Max(inner.minY, y)
			}
			if j == last {
				inner.maxY = math.Min(inner.maxY, y)
			}
		}
	}
	return inner, outer
}

// UndistortionMap holds, for every pixel of an undistorted image, the sub-pixel position to sample in the
// distorted source image. Pixels with no source have NaN coordinates.
type UndistortionMap struct {
	Width, Height int
	MapX, MapY    []float64
}

// NewUndistortionMap computes the map from an undistorted image expressed with newParams to the distorted
// image of this camera. A nil newParams keeps the camera's own intrinsics.
func (params *PinholeCameraModel) NewUndistortionMap(newParams *PinholeCameraIntrinsics) (*UndistortionMap, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	if newParams == nil {
		newParams = params.PinholeCameraIntrinsics
	}
	if err := newParams.CheckValid(); err != nil {
		return nil, err
	}
	width, height := params.Width, params.Height
	m := &UndistortionMap{
		Width:  width,
		Height: height,
		MapX:   make([]float64, width*height),
		MapY:   make([]float64, width*height),
	}
	distortionMap := params.distortionMapFrom(newParams)
	err := utils.ParallelForEachRow(context.Background(), height, func(v int) {
		for u := 0; u < width; u++ {
			x, y := distortionMap(float64(u), float64(v))
			x, y = snapToBounds(x, float64(width-1)), snapToBounds(y, float64(height-1))
			if x < 0 || y < 0 || x > float64(width-1) || y > float64(height-1) {
				x, y = math.NaN(), math.NaN()
			}
			m.MapX[v*width+u] = x
			m.MapY[v*width+u] = y
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Remap resamples img through the map with bilinear interpolation. Pixels with no source are opaque black.
func (m *UndistortionMap) Remap(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() != m.Width || bounds.Dy() != m.Height {
		return nil, errors.Errorf("img dimension and map don't match Image(%d,%d) != Map(%d,%d)",
			bounds.Dx(), bounds.Dy(), m.Width, m.Height)
	}
	src := imaging.Clone(img)
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	err := utils.ParallelForEachRow(context.Background(), m.Height, func(v int) {
		for u := 0; u < m.Width; u++ {
			idx := v*m.Width + u
			x, y := m.MapX[idx], m.MapY[idx]
			off := v*dst.Stride + u*4
			c, ok := rimage.BilinearInterpolationNRGBA(src, x, y)
			if !ok {
				dst.Pix[off+3] = 255
				continue
			}
			dst.Pix[off], dst.Pix[off+1], dst.Pix[off+2], dst.Pix[off+3] = c.R, c.G, c.B, c.A
		}
	})
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// snapToBounds absorbs rounding error at the image border.
func snapToBounds(v, maxV float64) float64 {
	const tol = 1e-9
	switch {
	case v < 0 && v > -tol:
		return 0
	case v > maxV && v < maxV+tol:
		return maxV
	default:
		return v
	}
}

// UndistortImage takes an input image and creates a new image the same size, undistorted according to the
// distortion model in PinholeCameraModel and expressed with the intrinsics newParams (nil keeps the
// camera's own). A bilinear interpolation is used to interpolate values between image pixels.
func (params *PinholeCameraModel) UndistortImage(img image.Image, newParams *PinholeCameraIntrinsics) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	// Check dimensions, they should be equal between the image and what the intrinsics expect
	b := img.Bounds()
	if params.Width != b.Dx() || params.Height != b.Dy() {
		return nil, errors.Errorf("img dimension and intrinsics don't match Image(%d,%d) != Intrinsics(%d,%d)",
			b.Dx(), b.Dy(), params.Width, params.Height)
	}
	m, err := params.NewUndistortionMap(newParams)
	if err != nil {
		return nil, err
	}
	return m.Remap(img)
}
