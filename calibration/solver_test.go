package calibration

import (
	"context"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/transform"
)

var (
	testSize    = image.Pt(640, 480)
	testPattern = PatternSpec{BoardWidth: 9, BoardHeight: 6, SquareSize: 25}
)

// syntheticCamera returns a camera of the test size with the given distortion coefficients.
func syntheticCamera(t *testing.T, fx, fy float64, coeffs []float64) *transform.PinholeCameraModel {
	t.Helper()
	bc, err := transform.NewBrownConrady(coeffs)
	test.That(t, err, test.ShouldBeNil)
	return &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: testSize.X, Height: testSize.Y, Fx: fx, Fy: fy, Ppx: 320, Ppy: 240,
		},
		Distortion: bc,
	}
}

// randomPoses returns n poses looking at the test board from 400 to 600 units away, tilted by up to about
// 30 degrees and rolled by up to about 15 degrees.
func randomPoses(rng *rand.Rand, n int) []transform.Pose {
	center := r3.Vector{
		X: float64(testPattern.BoardWidth-1) * testPattern.SquareSize / 2,
		Y: float64(testPattern.BoardHeight-1) * testPattern.SquareSize / 2,
	}
	poses := make([]transform.Pose, n)
	for i := range poses {
		rvec := r3.Vector{
			X: (rng.Float64()*2 - 1) * 0.52,
			Y: (rng.Float64()*2 - 1) * 0.52,
			Z: (rng.Float64()*2 - 1) * 0.26,
		}
		rot := transform.RodriguesToRotation(rvec)
		offset := r3.Vector{X: (rng.Float64()*2 - 1) * 30, Y: (rng.Float64()*2 - 1) * 30, Z: 400 + rng.Float64()*200}
		poses[i] = transform.Pose{Rotation: rvec, Translation: offset.Sub(rot.Apply(center))}
	}
	return poses
}

// observe projects the board through camera for every pose, adding Gaussian pixel noise.
func observe(camera *transform.PinholeCameraModel, poses []transform.Pose, noise float64, rng *rand.Rand) [][]r2.Point {
	template := testPattern.ObjectPoints()
	out := make([][]r2.Point, len(poses))
	for i, pose := range poses {
		out[i] = ProjectPoints(camera, pose, template)
		for k := range out[i] {
			out[i][k] = out[i][k].Add(r2.Point{X: rng.NormFloat64() * noise, Y: rng.NormFloat64() * noise})
		}
	}
	return out
}

func sameSizes(n int) []image.Point {
	sizes := make([]image.Point, n)
	for i := range sizes {
		sizes[i] = testSize
	}
	return sizes
}

func TestCalibrateRecoversIntrinsics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	truth := syntheticCamera(t, 800, 780, nil)
	corners := observe(truth, randomPoses(rng, 12), 0.1, rng)

	model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(),
		SolverOptions{Logger: logging.NewTestLogger(t)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(model.Camera.Fx-800)/800, test.ShouldBeLessThan, 0.01)
	test.That(t, math.Abs(model.Camera.Fy-780)/780, test.ShouldBeLessThan, 0.01)
	test.That(t, model.Camera.Ppx, test.ShouldAlmostEqual, 320, 5)
	test.That(t, model.Camera.Ppy, test.ShouldAlmostEqual, 240, 5)
	test.That(t, model.RMS, test.ShouldBeLessThan, 0.5)
	test.That(t, model.RMS, test.ShouldBeGreaterThan, 0)
	test.That(t, len(model.DistortionCoefficients()), test.ShouldEqual, 5)
	test.That(t, len(model.Poses), test.ShouldEqual, 12)
	test.That(t, model.ImageSize(), test.ShouldResemble, testSize)
}

func TestCalibrateRecoversDistortion(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	coeffs := []float64{-0.25, 0.08, 0.001, -0.0005, 0}
	truth := syntheticCamera(t, 800, 800, coeffs)
	poses := randomPoses(rng, 12)
	corners := observe(truth, poses, 0, rng)

	model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(),
		SolverOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(model.Camera.Fx-800)/800, test.ShouldBeLessThan, 0.005)
	got := model.DistortionCoefficients()
	test.That(t, got[transform.CoeffK1], test.ShouldAlmostEqual, coeffs[0], 5e-3)
	test.That(t, got[transform.CoeffP1], test.ShouldAlmostEqual, coeffs[2], 5e-4)
	test.That(t, got[transform.CoeffP2], test.ShouldAlmostEqual, coeffs[3], 5e-4)
	test.That(t, model.RMS, test.ShouldBeLessThan, 0.05)
	for i, pose := range model.Poses {
		test.That(t, pose.Translation.Sub(poses[i].Translation).Norm(), test.ShouldBeLessThan, 2)
	}
}

func TestCalibrateFlags(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	truth := syntheticCamera(t, 800, 800, nil)
	corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
	template := testPattern.ObjectPoints()

	for _, tc := range []struct {
		flags  []Flag
		length int
	}{
		{nil, 5},
		{[]Flag{FixK3}, 4},
		{[]Flag{RationalModel}, 8},
		{[]Flag{FixK3, RationalModel}, 8},
	} {
		flags, err := NewFlagSet(tc.flags...)
		test.That(t, err, test.ShouldBeNil)
		model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, template,
			SolverOptions{Flags: flags})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(model.DistortionCoefficients()), test.ShouldEqual, tc.length)
		if flags.Has(FixK3) {
			bc, ok := model.Camera.Distortion.(*transform.BrownConrady)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, bc.RadialK3, test.ShouldEqual, 0.)
		}
		test.That(t, model.Flags, test.ShouldResemble, flags)
	}

	flags, err := NewFlagSet(FixPrincipalPoint, FixAspectRatio, ZeroTangentDist)
	test.That(t, err, test.ShouldBeNil)
	model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, template,
		SolverOptions{Flags: flags})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Camera.Ppx, test.ShouldEqual, 319.5)
	test.That(t, model.Camera.Ppy, test.ShouldEqual, 239.5)
	test.That(t, model.Camera.Fy, test.ShouldEqual, model.Camera.Fx)
	dist := model.DistortionCoefficients()
	test.That(t, dist[transform.CoeffP1], test.ShouldEqual, 0.)
	test.That(t, dist[transform.CoeffP2], test.ShouldEqual, 0.)
	test.That(t, math.Abs(model.Camera.Fx-800)/800, test.ShouldBeLessThan, 0.01)
}

func TestCalibrateRationalModelConverges(t *testing.T) {
	flags, err := NewFlagSet(RationalModel)
	test.That(t, err, test.ShouldBeNil)
	withK3Fixed, err := NewFlagSet(FixK3, RationalModel)
	test.That(t, err, test.ShouldBeNil)
	truth := syntheticCamera(t, 800, 800, nil)
	for seed := int64(1); seed <= 6; seed++ {
		rng := rand.New(rand.NewSource(seed))
		corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
		for _, fs := range []FlagSet{flags, withK3Fixed} {
			model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners,
				testPattern.ObjectPoints(), SolverOptions{Flags: fs})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(model.DistortionCoefficients()), test.ShouldEqual, 8)
			test.That(t, math.Abs(model.Camera.Fx-800)/800, test.ShouldBeLessThan, 0.02)
			test.That(t, model.RMS, test.ShouldBeLessThan, 0.3)
		}
	}
}

func TestCalibrateSkipsAbsentViews(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	truth := syntheticCamera(t, 800, 800, nil)
	corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
	withGaps := append([][]r2.Point{nil}, corners[:5]...)
	withGaps = append(withGaps, nil)
	withGaps = append(withGaps, corners[5:]...)
	sizes := sameSizes(len(withGaps))
	// absent views do not need a matching size
	sizes[0] = image.Pt(1, 1)

	model, err := Calibrate(context.Background(), sizes, withGaps, testPattern.ObjectPoints(), SolverOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.ViewIndices, test.ShouldResemble, []int{1, 2, 3, 4, 5, 7, 8, 9, 10, 11})
}

func TestCalibrateInsufficientViews(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	truth := syntheticCamera(t, 800, 800, nil)
	corners := observe(truth, randomPoses(rng, 9), 0.1, rng)
	corners = append(corners, nil, nil, nil)

	_, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(), SolverOptions{})
	test.That(t, errors.Is(err, ErrDetectionInsufficient), test.ShouldBeTrue)

	_, err = Calibrate(context.Background(), sameSizes(3), make([][]r2.Point, 3), testPattern.ObjectPoints(), SolverOptions{})
	test.That(t, errors.Is(err, ErrDetectionInsufficient), test.ShouldBeTrue)

	model, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(),
		SolverOptions{MinViews: 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(model.Poses), test.ShouldEqual, 9)
}

func TestCalibrateInputErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	truth := syntheticCamera(t, 800, 800, nil)
	corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
	template := testPattern.ObjectPoints()

	_, err := Calibrate(context.Background(), nil, nil, template, SolverOptions{})
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	_, err = Calibrate(context.Background(), sameSizes(3), corners, template, SolverOptions{})
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	sizes := sameSizes(len(corners))
	sizes[4] = image.Pt(1280, 960)
	_, err = Calibrate(context.Background(), sizes, corners, template, SolverOptions{})
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	short := append([][]r2.Point{}, corners...)
	short[2] = short[2][:10]
	_, err = Calibrate(context.Background(), sameSizes(len(short)), short, template, SolverOptions{})
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	_, err = Calibrate(context.Background(), sameSizes(len(corners)), corners, template,
		SolverOptions{Flags: FlagSet{"fix_everything"}})
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
}

func TestCalibrateFrontoParallelDiverges(t *testing.T) {
	truth := syntheticCamera(t, 800, 800, nil)
	center := r3.Vector{
		X: float64(testPattern.BoardWidth-1) * testPattern.SquareSize / 2,
		Y: float64(testPattern.BoardHeight-1) * testPattern.SquareSize / 2,
	}
	var poses []transform.Pose
	for i := 0; i < 10; i++ {
		offset := r3.Vector{X: float64(i%3-1) * 20, Y: float64(i%2) * 15, Z: 400 + 20*float64(i)}
		poses = append(poses, transform.Pose{Translation: offset.Sub(center)})
	}
	corners := observe(truth, poses, 0, rand.New(rand.NewSource(7)))

	logger, logs := logging.NewObservedTestLogger(t)
	_, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(),
		SolverOptions{Logger: logger})
	test.That(t, errors.Is(err, ErrNumericalDivergence), test.ShouldBeTrue)
	test.That(t, logs.FilterMessageSnippet("falling back to the image size").Len(), test.ShouldEqual, 1)
}

func TestCalibrateIterationCap(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	truth := syntheticCamera(t, 800, 800, []float64{-0.2, 0.05, 0, 0, 0})
	corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
	_, err := Calibrate(context.Background(), sameSizes(len(corners)), corners, testPattern.ObjectPoints(),
		SolverOptions{MaxIterations: 1})
	test.That(t, errors.Is(err, ErrNumericalDivergence), test.ShouldBeTrue)
}

func TestCalibrateCancelled(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	truth := syntheticCamera(t, 800, 800, nil)
	corners := observe(truth, randomPoses(rng, 10), 0.1, rng)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calibrate(ctx, sameSizes(len(corners)), corners, testPattern.ObjectPoints(), SolverOptions{})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
