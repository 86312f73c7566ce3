package calibration

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/rimage/detection/chessboard"
	"go.viam.com/camcalib/testutils"
)

func TestConfigValidate(t *testing.T) {
	var empty Config
	err := empty.Validate("cfg")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
	for _, field := range []string{"board_width", "board_height", "square_size"} {
		test.That(t, err.Error(), test.ShouldContainSubstring, field)
	}

	alpha := 1.5
	bad := Config{
		PatternSpec: PatternSpec{BoardWidth: 1, BoardHeight: 6, SquareSize: -1},
		MinViews:    -3,
		Alpha:       &alpha,
		Flags:       FlagSet{FixK3, Flag("fix_k9")},
		Solver:      SolverConfig{MaxIterations: -1},
	}
	err = bad.Validate("cfg")
	test.That(t, err, test.ShouldNotBeNil)
	for _, msg := range []string{"board_width", "square_size", "min_views", "alpha", "fix_k9", "cfg.flags.1", "cfg.solver"} {
		test.That(t, err.Error(), test.ShouldContainSubstring, msg)
	}
	test.That(t, err.Error(), test.ShouldNotContainSubstring, "board_height")

	good := Config{PatternSpec: PatternSpec{BoardWidth: 9, BoardHeight: 6, SquareSize: 25}}
	test.That(t, good.Validate("cfg"), test.ShouldBeNil)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{PatternSpec: PatternSpec{BoardWidth: 9, BoardHeight: 6, SquareSize: 25}}.WithDefaults()
	test.That(t, cfg.MinViews, test.ShouldEqual, DefaultMinViews)
	test.That(t, *cfg.Alpha, test.ShouldEqual, 1.)
	test.That(t, cfg.Solver, test.ShouldResemble, SolverConfig{
		Epsilon:       DefaultEpsilon,
		MaxIterations: DefaultMaxIterations,
		MaxCondition:  DefaultMaxCondition,
	})
	test.That(t, cfg.Detection, test.ShouldResemble, chessboard.DefaultDetectionConf)

	alpha := 0.
	cfg = Config{MinViews: 4, Alpha: &alpha, Solver: SolverConfig{MaxIterations: 7}}.WithDefaults()
	test.That(t, cfg.MinViews, test.ShouldEqual, 4)
	test.That(t, *cfg.Alpha, test.ShouldEqual, 0.)
	test.That(t, cfg.Solver.MaxIterations, test.ShouldEqual, 7)
}

func TestReadConfig(t *testing.T) {
	path := testutils.WriteTempFile(t, "calibration.json", []byte(`{
		"board_width": 8,
		"board_height": 6,
		"square_size": 0.025,
		"min_views": 12,
		"alpha": 0.5,
		"flags": ["fix_k3", "zero_tangent_dist"],
		"detection": {"window_size": 7},
		"solver": {"max_iterations": 50}
	}`))
	cfg, err := ReadConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.PatternSpec, test.ShouldResemble, PatternSpec{BoardWidth: 8, BoardHeight: 6, SquareSize: 0.025})
	test.That(t, cfg.MinViews, test.ShouldEqual, 12)
	test.That(t, *cfg.Alpha, test.ShouldEqual, 0.5)
	test.That(t, cfg.Flags, test.ShouldResemble, FlagSet{FixK3, ZeroTangentDist})
	test.That(t, cfg.Detection.WindowSize, test.ShouldEqual, 7)
	test.That(t, cfg.Solver.MaxIterations, test.ShouldEqual, 50)

	path = testutils.WriteTempFile(t, "bad.json", []byte(`{"board_width": 8, "board_height": 1, "square_size": 1}`))
	_, err = ReadConfig(path)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	path = testutils.WriteTempFile(t, "garbage.json", []byte(`{"board_width": `))
	_, err = ReadConfig(path)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	_, err = ReadConfig(path + ".missing")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeFalse)
}
