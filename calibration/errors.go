package calibration

import (
	"github.com/pkg/errors"
)

var (
	// ErrInput is returned for malformed configuration or inputs, such as an empty image list.
	ErrInput = errors.New("invalid calibration input")
	// ErrDetectionInsufficient is returned when too few views show the whole pattern.
	ErrDetectionInsufficient = errors.New("not enough views with a detected pattern")
	// ErrNumericalDivergence is returned when the solver fails to converge.
	ErrNumericalDivergence = errors.New("calibration did not converge")
	// ErrNotCalibrated is returned when a model is needed but none was fit yet.
	ErrNotCalibrated = errors.New("camera is not calibrated")
	// ErrMalformedArtifact is returned when a serialized model cannot be read.
	ErrMalformedArtifact = errors.New("malformed calibration artifact")
)

// NewInputError wraps ErrInput with a description of what is wrong.
func NewInputError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInput, format, args...)
}

// NewDetectionInsufficientError reports how many views were usable and how many are needed.
func NewDetectionInsufficientError(got, want int) error {
	return errors.Wrapf(ErrDetectionInsufficient, "found the pattern in %d views, need at least %d", got, want)
}

// NewNumericalDivergenceError wraps ErrNumericalDivergence with the reason the solver stopped.
func NewNumericalDivergenceError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNumericalDivergence, format, args...)
}

// NewMalformedArtifactError wraps ErrMalformedArtifact with the offending part of the artifact.
func NewMalformedArtifactError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedArtifact, format, args...)
}
