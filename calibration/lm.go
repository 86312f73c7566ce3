package calibration

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/transform"
)

// Slots of the intrinsic parameter vector. Distortion coefficients follow in transform.CoeffK1 order.
const (
	slotFx = iota
	slotFy
	slotCx
	slotCy
	slotDistortion
	numIntrinsics = slotDistortion + transform.MaxDistortionCoefficients
)

const poseParams = 6

// solverState is a point of the parameter space: shared intrinsics and one rigid pose per view.
type solverState struct {
	intrinsics [numIntrinsics]float64
	rotations  []transform.RotationMatrix
	positions  []r3.Vector
}

func (st *solverState) clone() *solverState {
	return &solverState{
		intrinsics: st.intrinsics,
		rotations:  append([]transform.RotationMatrix(nil), st.rotations...),
		positions:  append([]r3.Vector(nil), st.positions...),
	}
}

func (st *solverState) distortion() *transform.BrownConrady {
	bc := &transform.BrownConrady{NumCoefficients: transform.MaxDistortionCoefficients}
	var coeffs [transform.MaxDistortionCoefficients]float64
	copy(coeffs[:], st.intrinsics[slotDistortion:])
	bc.RadialK1, bc.RadialK2 = coeffs[transform.CoeffK1], coeffs[transform.CoeffK2]
	bc.TangentialP1, bc.TangentialP2 = coeffs[transform.CoeffP1], coeffs[transform.CoeffP2]
	bc.RadialK3 = coeffs[transform.CoeffK3]
	bc.RationalK4, bc.RationalK5, bc.RationalK6 = coeffs[transform.CoeffK4], coeffs[transform.CoeffK5], coeffs[transform.CoeffK6]
	return bc
}

// pointJacobian holds the derivatives of a projected pixel (u, v) with respect to every intrinsic slot and
// to the local pose update (rotation increment, then translation).
type pointJacobian struct {
	intrinsics [2][numIntrinsics]float64
	pose       [2][poseParams]float64
}

// projectWithJacobian projects the target point pt through the camera for the pose (rot, t). The rotation
// derivative is taken for the update rot <- rot * exp([dw]x).
func projectWithJacobian(
	intr *[numIntrinsics]float64,
	bc *transform.BrownConrady,
	rot *transform.RotationMatrix,
	t, pt r3.Vector,
) (r2.Point, pointJacobian) {
	var jac pointJacobian
	pc := rot.Apply(pt).Add(t)
	invZ := 1 / pc.Z
	x, y := pc.X*invZ, pc.Y*invZ
	xd, yd, dj := bc.TransformWithJacobian(x, y)
	fx, fy := intr[slotFx], intr[slotFy]

	jac.intrinsics[0][slotFx] = xd
	jac.intrinsics[1][slotFy] = yd
	jac.intrinsics[0][slotCx] = 1
	jac.intrinsics[1][slotCy] = 1
	for c := 0; c < transform.MaxDistortionCoefficients; c++ {
		jac.intrinsics[0][slotDistortion+c] = fx * dj.Coeffs[0][c]
		jac.intrinsics[1][slotDistortion+c] = fy * dj.Coeffs[1][c]
	}

	dx := r3.Vector{X: invZ, Z: -x * invZ}
	dy := r3.Vector{Y: invZ, Z: -y * invZ}
	dPc := [2]r3.Vector{
		dx.Mul(dj.Point[0][0]).Add(dy.Mul(dj.Point[0][1])).Mul(fx),
		dx.Mul(dj.Point[1][0]).Add(dy.Mul(dj.Point[1][1])).Mul(fy),
	}
	// dPc/dw_j = R * (e_j x pt)
	dRot := [3]r3.Vector{
		rot.Apply(r3.Vector{Y: -pt.Z, Z: pt.Y}),
		rot.Apply(r3.Vector{X: pt.Z, Z: -pt.X}),
		rot.Apply(r3.Vector{X: -pt.Y, Y: pt.X}),
	}
	for r := 0; r < 2; r++ {
		for j := 0; j < 3; j++ {
			jac.pose[r][j] = dPc[r].Dot(dRot[j])
		}
		jac.pose[r][3], jac.pose[r][4], jac.pose[r][5] = dPc[r].X, dPc[r].Y, dPc[r].Z
	}
	return r2.Point{X: fx*xd + intr[slotCx], Y: fy*yd + intr[slotCy]}, jac
}

// lmProblem is a bundle of planar views sharing one camera. Only the intrinsic slots listed in free are
// optimized; when linkAspect is set fy follows fx times aspect.
type lmProblem struct {
	template   []r3.Vector
	views      [][]r2.Point
	free       []int
	linkAspect bool
	aspect     float64
}

type lmOptions struct {
	epsilon       float64
	maxIterations int
	maxCondition  float64
	logger        logging.Logger
}

func (p *lmProblem) numParams() int {
	return len(p.free) + poseParams*len(p.views)
}

func (p *lmProblem) numPoints() int {
	return len(p.template) * len(p.views)
}

// cost returns the sum of squared reprojection errors, or +Inf when a point falls behind the camera.
func (p *lmProblem) cost(st *solverState) float64 {
	bc := st.distortion()
	sum := 0.
	for v, obs := range p.views {
		for k, pt := range p.template {
			pc := st.rotations[v].Apply(pt).Add(st.positions[v])
			if pc.Z <= 0 {
				return math.Inf(1)
			}
			proj, _ := projectWithJacobian(&st.intrinsics, bc, &st.rotations[v], st.positions[v], pt)
			d := proj.Sub(obs[k])
			sum += d.X*d.X + d.Y*d.Y
		}
	}
	return sum
}

// normalEquations builds J^T J and J^T r at st.
func (p *lmProblem) normalEquations(st *solverState) (*mat.SymDense, []float64) {
	n := p.numParams()
	nFree := len(p.free)
	a := make([]float64, n*n)
	g := make([]float64, n)
	bc := st.distortion()
	cols := make([]int, nFree+poseParams)
	vals := make([]float64, nFree+poseParams)
	for i := 0; i < nFree; i++ {
		cols[i] = i
	}
	for v, obs := range p.views {
		for j := 0; j < poseParams; j++ {
			cols[nFree+j] = nFree + poseParams*v + j
		}
		for k, pt := range p.template {
			proj, jac := projectWithJacobian(&st.intrinsics, bc, &st.rotations[v], st.positions[v], pt)
			res := [2]float64{proj.X - obs[k].X, proj.Y - obs[k].Y}
			for r := 0; r < 2; r++ {
				for i, slot := range p.free {
					vals[i] = jac.intrinsics[r][slot]
					if slot == slotFx && p.linkAspect {
						vals[i] += p.aspect * jac.intrinsics[r][slotFy]
					}
				}
				copy(vals[nFree:], jac.pose[r][:])
				for i, ci := range cols {
					if vals[i] == 0 {
						continue
					}
					g[ci] += vals[i] * res[r]
					row := a[ci*n:]
					for j, cj := range cols {
						row[cj] += vals[i] * vals[j]
					}
				}
			}
		}
	}
	return mat.NewSymDense(n, a), g
}

// apply returns st moved by the update delta, laid out as the free intrinsics followed by the pose
// increments of every view.
func (p *lmProblem) apply(st *solverState, delta []float64) *solverState {
	next := st.clone()
	for i, slot := range p.free {
		next.intrinsics[slot] += delta[i]
	}
	if p.linkAspect {
		next.intrinsics[slotFy] = p.aspect * next.intrinsics[slotFx]
	}
	nFree := len(p.free)
	for v := range p.views {
		d := delta[nFree+poseParams*v:]
		inc := transform.RodriguesToRotation(r3.Vector{X: d[0], Y: d[1], Z: d[2]})
		next.rotations[v] = next.rotations[v].Mul(&inc)
		next.positions[v] = next.positions[v].Add(r3.Vector{X: d[3], Y: d[4], Z: d[5]})
	}
	return next
}

// paramNorm is the norm of the free parameters, with rotations as rotation vectors.
func (p *lmProblem) paramNorm(st *solverState) float64 {
	sum := 0.
	for _, slot := range p.free {
		sum += st.intrinsics[slot] * st.intrinsics[slot]
	}
	for v := range p.views {
		r := st.rotations[v].Rodrigues()
		sum += r.Norm2() + st.positions[v].Norm2()
	}
	return math.Sqrt(sum)
}

// geometricParams lists the parameters of the projective part of the problem: focal lengths, principal
// point and poses. The distortion terms are left to the damping, since the rational terms are rank
// deficient whenever the distortion is close to zero.
func (p *lmProblem) geometricParams() []int {
	var out []int
	for i, slot := range p.free {
		if slot < slotDistortion {
			out = append(out, i)
		}
	}
	for i := len(p.free); i < p.numParams(); i++ {
		out = append(out, i)
	}
	return out
}

// checkConditioning fails when the Jacobi scaled normal matrix restricted to params is singular or its
// condition number exceeds maxCondition, which happens when the views do not constrain the camera, as with
// only fronto-parallel views.
func checkConditioning(a *mat.SymDense, params []int, maxCondition float64) error {
	n := len(params)
	scale := make([]float64, n)
	for i, pi := range params {
		d := a.At(pi, pi)
		if !(d > 0) || math.IsInf(d, 0) {
			return NewNumericalDivergenceError("parameter %d is not constrained by any view", pi)
		}
		scale[i] = 1 / math.Sqrt(d)
	}
	scaled := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, a.At(params[i], params[j])*scale[i]*scale[j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(scaled); !ok {
		return NewNumericalDivergenceError("normal matrix is singular")
	}
	if cond := chol.Cond(); cond > maxCondition || math.IsNaN(cond) {
		return NewNumericalDivergenceError("normal matrix condition number %.3g exceeds %.3g", cond, maxCondition)
	}
	return nil
}

// dampingFloors returns, per parameter, the smallest damping factor its diagonal gets. The distortion
// terms keep distortionDampingFloor so that steps along their near null directions stay bounded.
func (p *lmProblem) dampingFloors() []float64 {
	floors := make([]float64, p.numParams())
	for i, slot := range p.free {
		if slot >= slotDistortion {
			floors[i] = distortionDampingFloor
		}
	}
	return floors
}

// solveDamped solves (A + max(lambda, floors)*diag(A)) delta = -g.
func solveDamped(a *mat.SymDense, g []float64, lambda float64, floors []float64) ([]float64, bool) {
	n := a.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(a)
	for i := 0; i < n; i++ {
		damped.SetSym(i, i, a.At(i, i)*(1+math.Max(lambda, floors[i])))
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok {
		return nil, false
	}
	rhs := mat.NewVecDense(n, nil)
	for i, v := range g {
		rhs.SetVec(i, -v)
	}
	var delta mat.VecDense
	if err := chol.SolveVecTo(&delta, rhs); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = delta.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, false
		}
	}
	return out, true
}

const (
	initialLambda          = 1e-3
	maxLambdaTries         = 40
	distortionDampingFloor = 1e-6
)

// run minimizes the reprojection error from start with Levenberg-Marquardt. It returns the final state and
// its sum of squared errors. It stops when the step is below epsilon relative to the parameter norm, or
// when an undamped enough step lowers the cost by less than epsilon relative to the cost. Failing to
// converge within maxIterations outer iterations is an error.
func (p *lmProblem) run(ctx context.Context, start *solverState, opts lmOptions) (*solverState, float64, error) {
	st := start
	cost := p.cost(st)
	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return nil, 0, NewNumericalDivergenceError("initial estimate puts the target behind the camera")
	}
	lambda := initialLambda
	geometric := p.geometricParams()
	floors := p.dampingFloors()
	for iter := 0; iter < opts.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		a, g := p.normalEquations(st)
		if err := checkConditioning(a, geometric, opts.maxCondition); err != nil {
			return nil, 0, err
		}
		tolerance := opts.epsilon * (p.paramNorm(st) + opts.epsilon)

		accepted := false
		for try := 0; try < maxLambdaTries && !accepted; try++ {
			delta, ok := solveDamped(a, g, lambda, floors)
			if !ok {
				lambda *= 10
				continue
			}
			stepNorm := mat.Norm(mat.NewVecDense(len(delta), delta), 2)
			candidate := p.apply(st, delta)
			candidateCost := p.cost(candidate)
			improved := candidateCost <= cost && !math.IsNaN(candidateCost)
			stalled := false
			if improved {
				stalled = lambda <= initialLambda && cost-candidateCost <= opts.epsilon*cost
				st, cost = candidate, candidateCost
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
			} else {
				lambda *= 10
			}
			if stepNorm <= tolerance || stalled {
				if opts.logger != nil {
					opts.logger.Debugw("converged", "iterations", iter+1, "cost", cost, "lambda", lambda)
				}
				return st, cost, nil
			}
		}
		if !accepted {
			return nil, 0, NewNumericalDivergenceError("no damping lowers the reprojection error at iteration %d", iter)
		}
		if opts.logger != nil {
			opts.logger.Debugw("iteration", "iteration", iter, "cost", cost, "lambda", lambda)
		}
	}
	return nil, 0, NewNumericalDivergenceError("no convergence after %d iterations", opts.maxIterations)
}
