// Package chessboard finds the interior corners of a planar chessboard target in an image.
package chessboard

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// PatternSize is the number of interior corners of the board along each side.
type PatternSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NumCorners is the number of interior corners of the board.
func (p PatternSize) NumCorners() int {
	return p.Width * p.Height
}

// CheckValid returns an error when the board has less than 2 interior corners along a side.
func (p PatternSize) CheckValid() error {
	if p.Width < 2 || p.Height < 2 {
		return errors.Errorf("pattern must have at least 2x2 interior corners, got %s", p)
	}
	return nil
}

func (p PatternSize) String() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// TermCriteria stops an iterative refinement once the update is smaller than Epsilon or after
// MaxIterations iterations, whichever comes first.
type TermCriteria struct {
	Epsilon       float64 `json:"epsilon"`
	MaxIterations int     `json:"max_iterations"`
}

// SaddleConfiguration stores the parameters used to find saddle point candidates.
type SaddleConfiguration struct {
	BlurSigma         float64 `json:"blur_sigma"`         // Gaussian pre-blur of the luminance
	RelativeThreshold float64 `json:"relative_threshold"` // fraction of the strongest saddle response kept
	NMSRadius         int     `json:"nms_radius"`         // half size of the non-maximum suppression window
	RingRadius        float64 `json:"ring_radius"`        // radius of the circle sampled around a candidate
	MinContrast       float64 `json:"min_contrast"`       // minimum luminance range on the ring
	MaxCandidates     int     `json:"max_candidates"`
}

// GridConfiguration stores the parameters used to grow the corner lattice.
type GridConfiguration struct {
	SnapTolerance float64 `json:"snap_tolerance"` // fraction of the local step a candidate may deviate
	MaxSeeds      int     `json:"max_seeds"`
}

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle     SaddleConfiguration `json:"saddle"`
	Grid       GridConfiguration   `json:"grid"`
	WindowSize int                 `json:"window_size"` // side of the subpixel refinement window, in pixels
	Criteria   TermCriteria        `json:"criteria"`
}

// DefaultDetectionConf is the configuration used when none is given.
var DefaultDetectionConf = DetectionConfiguration{
	Saddle: SaddleConfiguration{
		BlurSigma:         1.5,
		RelativeThreshold: 0.05,
		NMSRadius:         4,
		RingRadius:        5,
		MinContrast:       20,
		MaxCandidates:     2000,
	},
	Grid: GridConfiguration{
		SnapTolerance: 0.35,
		MaxSeeds:      25,
	},
	WindowSize: 11,
	Criteria: TermCriteria{
		Epsilon:       0.01,
		MaxIterations: 30,
	},
}

// WithDefaults returns a copy of cfg where every unset field takes its value from DefaultDetectionConf.
func (cfg DetectionConfiguration) WithDefaults() DetectionConfiguration {
	def := DefaultDetectionConf
	if cfg.Saddle.BlurSigma <= 0 {
		cfg.Saddle.BlurSigma = def.Saddle.BlurSigma
	}
	if cfg.Saddle.RelativeThreshold <= 0 {
		cfg.Saddle.RelativeThreshold = def.Saddle.RelativeThreshold
	}
	if cfg.Saddle.NMSRadius <= 0 {
		cfg.Saddle.NMSRadius = def.Saddle.NMSRadius
	}
	if cfg.Saddle.RingRadius <= 0 {
		cfg.Saddle.RingRadius = def.Saddle.RingRadius
	}
	if cfg.Saddle.MinContrast <= 0 {
		cfg.Saddle.MinContrast = def.Saddle.MinContrast
	}
	if cfg.Saddle.MaxCandidates <= 0 {
		cfg.Saddle.MaxCandidates = def.Saddle.MaxCandidates
	}
	if cfg.Grid.SnapTolerance <= 0 {
		cfg.Grid.SnapTolerance = def.Grid.SnapTolerance
	}
	if cfg.Grid.MaxSeeds <= 0 {
		cfg.Grid.MaxSeeds = def.Grid.MaxSeeds
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Criteria.Epsilon <= 0 {
		cfg.Criteria.Epsilon = def.Criteria.Epsilon
	}
	if cfg.Criteria.MaxIterations <= 0 {
		cfg.Criteria.MaxIterations = def.Criteria.MaxIterations
	}
	return cfg
}

// Result is the outcome of a detection on one image. Corners is nil unless Found is true, in which case it
// holds exactly Width*Height points in row-major order.
type Result struct {
	Corners []r2.Point
	Found   bool
}
