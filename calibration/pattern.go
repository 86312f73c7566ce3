package calibration

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/rimage/detection/chessboard"
)

// PatternSpec describes the calibration board: the number of interior corners along each side and the
// side length of a square, in the unit the translations are expressed in.
type PatternSpec struct {
	BoardWidth  int     `json:"board_width"`
	BoardHeight int     `json:"board_height"`
	SquareSize  float64 `json:"square_size"`
}

// CheckValid returns an error when the board is too small or the square size is not positive.
func (p PatternSpec) CheckValid() error {
	if p.BoardWidth < 2 || p.BoardHeight < 2 {
		return NewInputError("board must have at least 2x2 interior corners, got %dx%d", p.BoardWidth, p.BoardHeight)
	}
	if !(p.SquareSize > 0) {
		return NewInputError("square size must be positive, got %v", p.SquareSize)
	}
	return nil
}

// PatternSize returns the interior corner counts used by the detector.
func (p PatternSpec) PatternSize() chessboard.PatternSize {
	return chessboard.PatternSize{Width: p.BoardWidth, Height: p.BoardHeight}
}

// ObjectPoints returns the board corners on the z = 0 plane, row-major: the point at row r and column c is
// (c*SquareSize, r*SquareSize, 0).
func (p PatternSpec) ObjectPoints() []r3.Vector {
	return BuildObjectPoints(p)
}

// BuildObjectPoints returns the ordered template of board corners of spec.
func BuildObjectPoints(spec PatternSpec) []r3.Vector {
	if spec.BoardWidth <= 0 || spec.BoardHeight <= 0 {
		return nil
	}
	points := make([]r3.Vector, 0, spec.BoardWidth*spec.BoardHeight)
	for r := 0; r < spec.BoardHeight; r++ {
		for c := 0; c < spec.BoardWidth; c++ {
			points = append(points, r3.Vector{
				X: float64(c) * spec.SquareSize,
				Y: float64(r) * spec.SquareSize,
			})
		}
	}
	return points
}

// ParsePatternSize reads a pattern size written as WIDTHxHEIGHT, e.g. "8x6".
func ParsePatternSize(s string) (chessboard.PatternSize, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return chessboard.PatternSize{}, NewInputError("pattern size %q is not of the form WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return chessboard.PatternSize{}, NewInputError("bad pattern width in %q: %v", s, err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return chessboard.PatternSize{}, NewInputError("bad pattern height in %q: %v", s, err)
	}
	size := chessboard.PatternSize{Width: width, Height: height}
	if err := size.CheckValid(); err != nil {
		return chessboard.PatternSize{}, errors.Wrap(ErrInput, err.Error())
	}
	return size, nil
}

func (p PatternSpec) String() string {
	return fmt.Sprintf("%dx%d@%g", p.BoardWidth, p.BoardHeight, p.SquareSize)
}
