package calibration

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/transform"
)

// SolverOptions configures Calibrate. Zero values take the package defaults.
type SolverOptions struct {
	Flags         FlagSet
	MinViews      int
	Epsilon       float64
	MaxIterations int
	MaxCondition  float64
	Logger        logging.Logger
}

func (opts SolverOptions) withDefaults() SolverOptions {
	if opts.MinViews <= 0 {
		opts.MinViews = DefaultMinViews
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxCondition <= 0 {
		opts.MaxCondition = DefaultMaxCondition
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewBlankLogger("calibration")
	}
	return opts
}

// freeIntrinsics lists the intrinsic slots optimized under flags.
func freeIntrinsics(flags FlagSet) []int {
	free := []int{slotFx}
	if !flags.Has(FixAspectRatio) {
		free = append(free, slotFy)
	}
	if !flags.Has(FixPrincipalPoint) {
		free = append(free, slotCx, slotCy)
	}
	if !flags.Has(FixK1) {
		free = append(free, slotDistortion+transform.CoeffK1)
	}
	if !flags.Has(FixK2) {
		free = append(free, slotDistortion+transform.CoeffK2)
	}
	if !flags.Has(ZeroTangentDist) {
		free = append(free, slotDistortion+transform.CoeffP1, slotDistortion+transform.CoeffP2)
	}
	if !flags.Has(FixK3) {
		free = append(free, slotDistortion+transform.CoeffK3)
	}
	if flags.Has(RationalModel) {
		free = append(free,
			slotDistortion+transform.CoeffK4, slotDistortion+transform.CoeffK5, slotDistortion+transform.CoeffK6)
	}
	return free
}

// Calibrate fits a camera model to the corner sets of several views of a planar target. cornerSets[i] is
// the corner set detected in a view of size imageSizes[i], or nil when the target was not found there;
// every present set must be ordered like template. Views without corners are skipped, and fewer than
// opts.MinViews remaining views is ErrDetectionInsufficient. All remaining views must share the size of the
// first one.
//
// The intrinsics are initialized in closed form from the view homographies and refined jointly with the
// distortion and every view's pose by Levenberg-Marquardt. Failing to converge is ErrNumericalDivergence.
// ctx is checked between iterations.
func Calibrate(
	ctx context.Context,
	imageSizes []image.Point,
	cornerSets [][]r2.Point,
	template []r3.Vector,
	opts SolverOptions,
) (*Model, error) {
	opts = opts.withDefaults()
	if err := opts.Flags.CheckValid(); err != nil {
		return nil, NewInputError("%v", err)
	}
	if len(cornerSets) == 0 {
		return nil, NewInputError("no views given")
	}
	if len(imageSizes) != len(cornerSets) {
		return nil, NewInputError("got %d image sizes for %d corner sets", len(imageSizes), len(cornerSets))
	}
	if len(template) < 4 {
		return nil, NewInputError("the target needs at least 4 points, got %d", len(template))
	}
	for _, p := range template {
		if p.Z != 0 {
			return nil, NewInputError("target points must lie on the z = 0 plane")
		}
	}

	var (
		views   [][]r2.Point
		indices []int
		size    image.Point
	)
	for i, corners := range cornerSets {
		if corners == nil {
			continue
		}
		if len(corners) != len(template) {
			return nil, NewInputError("view %d has %d corners, the target has %d", i, len(corners), len(template))
		}
		if len(views) == 0 {
			size = imageSizes[i]
			if size.X <= 0 || size.Y <= 0 {
				return nil, NewInputError("view %d has an empty image size %v", i, size)
			}
		} else if imageSizes[i] != size {
			return nil, NewInputError("view %d has size %v, the reference size is %v", i, imageSizes[i], size)
		}
		views = append(views, corners)
		indices = append(indices, i)
	}
	if len(views) < opts.MinViews {
		return nil, NewDetectionInsufficientError(len(views), opts.MinViews)
	}

	logger := opts.Logger
	logger.Infow("calibrating", "views", len(views), "size", size, "flags", opts.Flags.String())
	st, err := initialState(size, template, views, opts.Flags, logger)
	if err != nil {
		return nil, err
	}
	lmOpts := lmOptions{
		epsilon:       opts.Epsilon,
		maxIterations: opts.MaxIterations,
		maxCondition:  opts.MaxCondition,
		logger:        logger,
	}

	// refine every pose alone with the initial intrinsics held fixed
	for v := range views {
		single := &lmProblem{template: template, views: views[v : v+1]}
		start := &solverState{
			intrinsics: st.intrinsics,
			rotations:  []transform.RotationMatrix{st.rotations[v]},
			positions:  []r3.Vector{st.positions[v]},
		}
		refined, _, err := single.run(ctx, start, lmOpts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debugw("keeping the homography pose", "view", indices[v], "error", err)
			continue
		}
		st.rotations[v], st.positions[v] = refined.rotations[0], refined.positions[0]
	}

	joint := &lmProblem{
		template:   template,
		views:      views,
		free:       freeIntrinsics(opts.Flags),
		linkAspect: opts.Flags.Has(FixAspectRatio),
		aspect:     st.intrinsics[slotFy] / st.intrinsics[slotFx],
	}
	st, cost, err := joint.run(ctx, st, lmOpts)
	if err != nil {
		return nil, err
	}
	for _, v := range st.intrinsics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, NewNumericalDivergenceError("solution is not finite")
		}
	}

	model, err := st.model(size, opts.Flags)
	if err != nil {
		return nil, NewNumericalDivergenceError("%v", err)
	}
	model.ViewIndices = indices
	model.RMS = math.Sqrt(cost / float64(joint.numPoints()))
	logger.Infow("calibrated", "rms", model.RMS, "fx", model.Camera.Fx, "fy", model.Camera.Fy,
		"cx", model.Camera.Ppx, "cy", model.Camera.Ppy)
	return model, nil
}

// model converts a solver state to a Model with the distortion length implied by flags.
func (st *solverState) model(size image.Point, flags FlagSet) (*Model, error) {
	coeffs := make([]float64, flags.DistortionLength())
	copy(coeffs, st.intrinsics[slotDistortion:])
	bc, err := transform.NewBrownConrady(coeffs)
	if err != nil {
		return nil, err
	}
	camera := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width:  size.X,
			Height: size.Y,
			Fx:     st.intrinsics[slotFx],
			Fy:     st.intrinsics[slotFy],
			Ppx:    st.intrinsics[slotCx],
			Ppy:    st.intrinsics[slotCy],
		},
		Distortion: bc,
	}
	if err := camera.CheckValid(); err != nil {
		return nil, err
	}
	poses := make([]transform.Pose, len(st.rotations))
	for i := range poses {
		poses[i] = transform.NewPose(st.rotations[i], st.positions[i])
	}
	flagsCopy := make(FlagSet, len(flags))
	copy(flagsCopy, flags)
	return &Model{Camera: camera, Poses: poses, Flags: flagsCopy}, nil
}
