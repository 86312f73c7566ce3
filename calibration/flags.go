package calibration

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/camcalib/rimage/transform"
)

// Flag is a named constraint on the calibration parameters.
type Flag string

// The supported calibration flags.
const (
	// FixK1 keeps the first radial coefficient at zero.
	FixK1 = Flag("fix_k1")
	// FixK2 keeps the second radial coefficient at zero.
	FixK2 = Flag("fix_k2")
	// FixK3 keeps the third radial coefficient at zero and drops it from the output.
	FixK3 = Flag("fix_k3")
	// ZeroTangentDist keeps both tangential coefficients at zero.
	ZeroTangentDist = Flag("zero_tangent_dist")
	// FixPrincipalPoint keeps the principal point at the image center.
	FixPrincipalPoint = Flag("fix_principal_point")
	// FixAspectRatio keeps fy equal to fx.
	FixAspectRatio = Flag("fix_aspect_ratio")
	// RationalModel enables the k4, k5, k6 denominator coefficients.
	RationalModel = Flag("rational_model")
)

// AllFlags lists every known flag.
var AllFlags = []Flag{FixK1, FixK2, FixK3, ZeroTangentDist, FixPrincipalPoint, FixAspectRatio, RationalModel}

// CheckValid returns an error for an unknown flag.
func (f Flag) CheckValid() error {
	for _, known := range AllFlags {
		if f == known {
			return nil
		}
	}
	return errors.Errorf("unknown calibration flag %q", string(f))
}

// FlagSet is a set of calibration flags. It marshals as a JSON list of flag names.
type FlagSet []Flag

// NewFlagSet returns the sorted set of the given flags without duplicates.
func NewFlagSet(flags ...Flag) (FlagSet, error) {
	for _, f := range flags {
		if err := f.CheckValid(); err != nil {
			return nil, err
		}
	}
	set := FlagSet(lo.Uniq(flags))
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

// Has returns whether f is in the set.
func (fs FlagSet) Has(f Flag) bool {
	for _, g := range fs {
		if g == f {
			return true
		}
	}
	return false
}

// CheckValid returns an error if any flag is unknown.
func (fs FlagSet) CheckValid() error {
	for _, f := range fs {
		if err := f.CheckValid(); err != nil {
			return err
		}
	}
	return nil
}

func (fs FlagSet) String() string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

// DistortionLength is the number of distortion coefficients a model fit with these flags has: 8 with the
// rational model, 4 when k3 is fixed, 5 otherwise.
func (fs FlagSet) DistortionLength() int {
	switch {
	case fs.Has(RationalModel):
		return transform.MaxDistortionCoefficients
	case fs.Has(FixK3):
		return 4
	default:
		return 5
	}
}
