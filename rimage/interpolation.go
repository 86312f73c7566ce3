package rimage

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
)

// BilinearInterpolationFloat samples a single channel float image at the sub-pixel position (x, y).
// ok is false when the position falls outside of the image.
func BilinearInterpolationFloat(m *mat.Dense, x, y float64) (float64, bool) {
	h, w := m.Dims()
	x0, y0, fx, fy, ok := bilinearCell(x, y, w, h)
	if !ok {
		return 0, false
	}
	raw := m.RawMatrix()
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	top := raw.Data[y0*raw.Stride+x0]*(1-fx) + raw.Data[y0*raw.Stride+x1]*fx
	bottom := raw.Data[y1*raw.Stride+x0]*(1-fx) + raw.Data[y1*raw.Stride+x1]*fx
	return top*(1-fy) + bottom*fy, true
}

// BilinearInterpolationNRGBA samples an NRGBA image at the sub-pixel position (x, y), relative to the
// image bounds origin. ok is false when the position falls outside of the image.
func BilinearInterpolationNRGBA(img *image.NRGBA, x, y float64) (color.NRGBA, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	x0, y0, fx, fy, ok := bilinearCell(x, y, w, h)
	if !ok {
		return color.NRGBA{}, false
	}
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	p00 := img.Pix[y0*img.Stride+x0*4:]
	p10 := img.Pix[y0*img.Stride+x1*4:]
	p01 := img.Pix[y1*img.Stride+x0*4:]
	p11 := img.Pix[y1*img.Stride+x1*4:]
	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-fx) + float64(p10[c])*fx
		bottom := float64(p01[c])*(1-fx) + float64(p11[c])*fx
		out[c] = uint8(math.Min(255, math.Max(0, math.Round(top*(1-fy)+bottom*fy))))
	}
	return color.NRGBA{out[0], out[1], out[2], out[3]}, true
}

// bilinearCell returns the top-left integer corner and fractional offsets of (x, y). Positions on the
// last row or column are accepted and sample a degenerate cell.
func bilinearCell(x, y float64, w, h int) (int, int, float64, float64, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 0, 0, 0, 0, false
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	return x0, y0, x - float64(x0), y - float64(y0), true
}
