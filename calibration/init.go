package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/transform"
)

// planarTemplate drops the z coordinate of a template lying on the z = 0 plane.
func planarTemplate(template []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(template))
	for i, p := range template {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// viewHomographies estimates the target-to-image homography of every view.
func viewHomographies(template []r3.Vector, views [][]r2.Point) ([]*transform.Homography, error) {
	plane := planarTemplate(template)
	out := make([]*transform.Homography, len(views))
	for i, corners := range views {
		h, err := transform.EstimateHomography(plane, corners)
		if err != nil {
			return nil, NewNumericalDivergenceError("view %d: %v", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// initialFocal estimates fx and fy from the homographies with the principal point fixed at (cx, cy). Each
// homography h = K [r1 r2 t] gives two constraints on w = diag(1/fx², 1/fy², 1): h1' w h2 = 0 and
// h1' w h1 = h2' w h2. ok is false when the constraints do not determine a positive solution.
func initialFocal(homographies []*transform.Homography, cx, cy, scale float64, linkAspect bool) (float64, float64, bool) {
	unknowns := 2
	if linkAspect {
		unknowns = 1
	}
	a := mat.NewDense(2*len(homographies), unknowns, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, h := range homographies {
		// move the principal point to the origin
		var c [2]r3.Vector
		for j := 0; j < 2; j++ {
			z := h.At(2, j)
			c[j] = r3.Vector{X: h.At(0, j) - cx*z, Y: h.At(1, j) - cy*z, Z: z}
		}
		norm := math.Sqrt(c[0].Norm2()+c[1].Norm2()) / scale
		if norm == 0 {
			return 0, 0, false
		}
		for j := range c {
			c[j] = r3.Vector{X: c[j].X / scale / norm, Y: c[j].Y / scale / norm, Z: c[j].Z / norm}
		}
		rows := [2][3]float64{
			{c[0].X * c[1].X, c[0].Y * c[1].Y, -c[0].Z * c[1].Z},
			{c[0].X*c[0].X - c[1].X*c[1].X, c[0].Y*c[0].Y - c[1].Y*c[1].Y, -(c[0].Z*c[0].Z - c[1].Z*c[1].Z)},
		}
		for r, row := range rows {
			if linkAspect {
				a.Set(2*i+r, 0, row[0]+row[1])
			} else {
				a.Set(2*i+r, 0, row[0])
				a.Set(2*i+r, 1, row[1])
			}
			b.SetVec(2*i+r, row[2])
		}
	}
	if !linkAspect {
		var svd mat.SVD
		if ok := svd.Factorize(a, mat.SVDNone); !ok {
			return 0, 0, false
		}
		values := svd.Values(nil)
		// views that only constrain the ratio fx/fy, such as fronto-parallel ones
		if values[0] == 0 || values[1]/values[0] < 1e-6 {
			return 0, 0, false
		}
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return 0, 0, false
	}
	invFx2 := sol.AtVec(0)
	invFy2 := invFx2
	if !linkAspect {
		invFy2 = sol.AtVec(1)
	}
	if !(invFx2 > 0) || !(invFy2 > 0) {
		return 0, 0, false
	}
	fx, fy := scale/math.Sqrt(invFx2), scale/math.Sqrt(invFy2)
	// a focal length far outside of the image scale means the views barely constrain it
	for _, f := range []float64{fx, fy} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < scale/100 || f > scale*100 {
			return 0, 0, false
		}
	}
	return fx, fy, true
}

// initialState builds the starting point of the joint refinement: the closed form intrinsics (or the image
// size heuristic), zero distortion, and per-view poses decomposed from the homographies.
func initialState(
	size image.Point,
	template []r3.Vector,
	views [][]r2.Point,
	flags FlagSet,
	logger logging.Logger,
) (*solverState, error) {
	homographies, err := viewHomographies(template, views)
	if err != nil {
		return nil, err
	}
	cx, cy := float64(size.X-1)/2, float64(size.Y-1)/2
	scale := float64(max(size.X, size.Y))
	fx, fy, ok := initialFocal(homographies, cx, cy, scale, flags.Has(FixAspectRatio))
	if !ok {
		logger.Warnw("closed form focal length estimate is ill-posed, falling back to the image size",
			"focal", scale)
		fx, fy = scale, scale
	}
	if flags.Has(FixAspectRatio) {
		fx = math.Sqrt(fx * fy)
		fy = fx
	}

	st := &solverState{
		rotations: make([]transform.RotationMatrix, len(views)),
		positions: make([]r3.Vector, len(views)),
	}
	st.intrinsics[slotFx], st.intrinsics[slotFy] = fx, fy
	st.intrinsics[slotCx], st.intrinsics[slotCy] = cx, cy

	k := mat.NewDense(3, 3, []float64{fx, 0, cx, 0, fy, cy, 0, 0, 1})
	for i, h := range homographies {
		pose, err := transform.PoseFromHomography(k, h)
		if err != nil {
			return nil, NewNumericalDivergenceError("view %d: %v", i, err)
		}
		st.rotations[i] = pose.RotationMatrix()
		st.positions[i] = pose.Translation
	}
	return st, nil
}
