package calibration

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/camcalib/rimage/detection/chessboard"
)

// Defaults used for the fields a Config leaves unset.
const (
	DefaultMinViews      = 10
	DefaultEpsilon       = 1e-6
	DefaultMaxIterations = 100
	DefaultMaxCondition  = 1e12
)

// SolverConfig bounds the joint refinement.
type SolverConfig struct {
	Epsilon       float64 `json:"epsilon,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	MaxCondition  float64 `json:"max_condition,omitempty"`
}

// Config describes a calibration session.
type Config struct {
	PatternSpec
	MinViews int `json:"min_views,omitempty"`
	// Alpha is the free scaling used for undistortion, in [0, 1]. Unset means 1.
	Alpha     *float64                          `json:"alpha,omitempty"`
	Flags     FlagSet                           `json:"flags,omitempty"`
	Detection chessboard.DetectionConfiguration `json:"detection"`
	Solver    SolverConfig                      `json:"solver"`
}

// Validate ensures all parts of the config are valid. Every problem found is reported.
func (config *Config) Validate(path string) error {
	var errs error
	if config.BoardWidth == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "board_width"))
	} else if config.BoardWidth < 2 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("board_width must be at least 2, got %d", config.BoardWidth)))
	}
	if config.BoardHeight == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "board_height"))
	} else if config.BoardHeight < 2 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("board_height must be at least 2, got %d", config.BoardHeight)))
	}
	if config.SquareSize == 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationFieldRequiredError(path, "square_size"))
	} else if !(config.SquareSize > 0) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("square_size must be positive, got %v", config.SquareSize)))
	}
	if config.MinViews < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("min_views cannot be negative, got %d", config.MinViews)))
	}
	if config.Alpha != nil && !(*config.Alpha >= 0 && *config.Alpha <= 1) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path,
			errors.Errorf("alpha must be in [0, 1], got %v", *config.Alpha)))
	}
	for idx, f := range config.Flags {
		if err := f.CheckValid(); err != nil {
			errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.flags.%d", path, idx), err))
		}
	}
	if config.Solver.Epsilon < 0 || config.Solver.MaxIterations < 0 || config.Solver.MaxCondition < 0 {
		errs = multierr.Append(errs, utils.NewConfigValidationError(fmt.Sprintf("%s.solver", path),
			errors.New("solver bounds cannot be negative")))
	}
	if errs != nil {
		return errors.Wrap(ErrInput, errs.Error())
	}
	return nil
}

// WithDefaults returns a copy of the config with every unset field filled in.
func (config Config) WithDefaults() Config {
	if config.MinViews == 0 {
		config.MinViews = DefaultMinViews
	}
	if config.Alpha == nil {
		alpha := 1.
		config.Alpha = &alpha
	}
	if config.Solver.Epsilon == 0 {
		config.Solver.Epsilon = DefaultEpsilon
	}
	if config.Solver.MaxIterations == 0 {
		config.Solver.MaxIterations = DefaultMaxIterations
	}
	if config.Solver.MaxCondition == 0 {
		config.Solver.MaxCondition = DefaultMaxCondition
	}
	config.Detection = config.Detection.WithDefaults()
	return config
}

// ReadConfig reads and validates a JSON config file.
func ReadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(ErrInput, "error parsing config %q: %v", path, err)
	}
	if err := config.Validate(""); err != nil {
		return nil, err
	}
	return &config, nil
}
