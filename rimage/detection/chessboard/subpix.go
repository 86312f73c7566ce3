package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage"
)

// RefineCorners moves each corner to the sub-pixel position where the image gradients inside a
// windowSize x windowSize neighborhood are orthogonal to the vectors joining them to the corner. The
// window is clipped to the image bounds. A corner stops moving once its update is below criteria.Epsilon
// or after criteria.MaxIterations iterations.
func RefineCorners(img image.Image, corners []r2.Point, windowSize int, criteria TermCriteria) []r2.Point {
	return refineCorners(rimage.ConvertImageToLuminanceFloat(img), corners, windowSize, criteria)
}

func refineCorners(lum *mat.Dense, corners []r2.Point, windowSize int, criteria TermCriteria) []r2.Point {
	half := max(windowSize/2, 1)
	weights := make([]float64, (2*half+1)*(2*half+1))
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			weights[(dy+half)*(2*half+1)+dx+half] = math.Exp(-float64(dx*dx+dy*dy) / float64(half*half))
		}
	}
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		out[i] = refineCorner(lum, c, half, weights, criteria)
	}
	return out
}

func refineCorner(lum *mat.Dense, start r2.Point, half int, weights []float64, criteria TermCriteria) r2.Point {
	sample := func(x, y float64) (float64, bool) {
		return rimage.BilinearInterpolationFloat(lum, x, y)
	}
	q := start
	for iter := 0; iter < criteria.MaxIterations; iter++ {
		var a11, a12, a22, b1, b2 float64
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				px, py := q.X+float64(dx), q.Y+float64(dy)
				right, ok1 := sample(px+1, py)
				left, ok2 := sample(px-1, py)
				down, ok3 := sample(px, py+1)
				up, ok4 := sample(px, py-1)
				if !ok1 || !ok2 || !ok3 || !ok4 {
					continue
				}
				w := weights[(dy+half)*(2*half+1)+dx+half]
				gx, gy := (right-left)/2, (down-up)/2
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				a11 += gxx
				a12 += gxy
				a22 += gyy
				b1 += gxx*px + gxy*py
				b2 += gxy*px + gyy*py
			}
		}
		det := a11*a22 - a12*a12
		if math.Abs(det) <= 1e-12*(a11*a22+1e-300) {
			break
		}
		next := r2.Point{
			X: (a22*b1 - a12*b2) / det,
			Y: (a11*b2 - a12*b1) / det,
		}
		move := next.Sub(q).Norm()
		q = next
		if move <= criteria.Epsilon {
			break
		}
	}
	// a corner that left its window converged on something else
	if math.Abs(q.X-start.X) > float64(half) || math.Abs(q.Y-start.Y) > float64(half) ||
		math.IsNaN(q.X) || math.IsNaN(q.Y) {
		return start
	}
	return q
}
