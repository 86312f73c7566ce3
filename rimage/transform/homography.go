package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform a plane from one perspective to
// another. Indices are [row][column].
type Homography [3][3]float64

// At returns the element at (row, col).
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Dense returns the homography as a *mat.Dense.
func (h *Homography) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.Dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return homographyFromDense(&inv), nil
}

func homographyFromDense(m mat.Matrix) *Homography {
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = m.At(i, j)
		}
	}
	if h[2][2] != 0 {
		s := h[2][2]
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h[i][j] /= s
			}
		}
	}
	return &h
}

// normalizingTransform returns the similarity that moves the centroid of pts to the origin and scales their
// mean distance to the origin to sqrt(2).
func normalizingTransform(pts []r2.Point) *mat.Dense {
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	c = c.Mul(1 / float64(len(pts)))
	meanDist := 0.
	for _, p := range pts {
		meanDist += p.Sub(c).Norm()
	}
	meanDist /= float64(len(pts))
	s := 1.
	if meanDist > 0 {
		s = math.Sqrt2 / meanDist
	}
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	})
}

func applyDense(t *mat.Dense, p r2.Point) r2.Point {
	x := t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)
	y := t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)
	w := t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)
	return r2.Point{X: x / w, Y: y / w}
}

// EstimateHomography computes the homography H such that dst[i] ~ H * src[i], using the normalized direct
// linear transform over all correspondences.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets have different lengths %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences to estimate a homography, got %d", len(src))
	}
	tSrc := normalizingTransform(src)
	tDst := normalizingTransform(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range src {
		p := applyDense(tSrc, src[i])
		q := applyDense(tDst, dst[i])
		a.SetRow(2*i, []float64{-p.X, -p.Y, -1, 0, 0, 0, q.X * p.X, q.X * p.Y, q.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -p.X, -p.Y, -1, q.Y * p.X, q.Y * p.Y, q.Y})
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThinV); !ok {
		return nil, errors.New("failed to factorize the homography system")
	}
	values := svd.Values(nil)
	// a rank below 8 means the points are collinear or repeated
	if values[0] == 0 || values[7]/values[0] < 1e-10 {
		return nil, errors.New("degenerate point configuration for homography")
	}
	var v mat.Dense
	svd.VTo(&v)
	h := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		h.Set(i/3, i%3, v.At(i, 8))
	}

	// denormalize: H = T_dst^-1 * Hn * T_src
	var tDstInv, tmp, out mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	tmp.Mul(&tDstInv, h)
	out.Mul(&tmp, tSrc)
	if math.Abs(out.At(2, 2)) < 1e-15 {
		return nil, errors.New("homography maps the origin to infinity")
	}
	return homographyFromDense(&out), nil
}
