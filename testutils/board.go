package testutils

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage/transform"
)

// BoardScene describes a synthetic picture of a chessboard taken by a camera without distortion. The board
// has (Width+1)x(Height+1) squares and Width x Height interior corners, the first interior corner being at
// (Square, Square) in target coordinates.
type BoardScene struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Width      int
	Height     int
	Square     float64
	Pose       transform.Pose
}

// CenteredPose returns the pose of a camera looking at the center of the board of the scene from distance,
// rotated by rvec, with the board center shifted by offset in camera coordinates.
func (s BoardScene) CenteredPose(rvec, offset r3.Vector, distance float64) transform.Pose {
	rot := transform.RodriguesToRotation(rvec)
	center := r3.Vector{X: float64(s.Width+1) * s.Square / 2, Y: float64(s.Height+1) * s.Square / 2}
	return transform.Pose{
		Rotation:    rvec,
		Translation: r3.Vector{Z: distance}.Add(offset).Sub(rot.Apply(center)),
	}
}

// Homography maps target plane coordinates to pixels.
func (s BoardScene) Homography(t *testing.T) *transform.Homography {
	t.Helper()
	rot := s.Pose.RotationMatrix()
	rt := mat.NewDense(3, 3, []float64{
		rot[0][0], rot[0][1], s.Pose.Translation.X,
		rot[1][0], rot[1][1], s.Pose.Translation.Y,
		rot[2][0], rot[2][1], s.Pose.Translation.Z,
	})
	var h mat.Dense
	h.Mul(s.Intrinsics.GetCameraMatrix(), rt)
	var out transform.Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = h.At(i, j)
		}
	}
	return &out
}

// Corners returns the interior corners in pixels, indexed [row][column] in target order.
func (s BoardScene) Corners(t *testing.T) [][]r2.Point {
	t.Helper()
	h := s.Homography(t)
	out := make([][]r2.Point, s.Height)
	for r := range out {
		out[r] = make([]r2.Point, s.Width)
		for c := range out[r] {
			out[r][c] = h.Apply(r2.Point{X: float64(c+1) * s.Square, Y: float64(r+1) * s.Square})
		}
	}
	return out
}

// Render draws the board over a white background, 4x4 supersampled.
func (s BoardScene) Render(t *testing.T) *image.Gray {
	t.Helper()
	inv, err := s.Homography(t).Inverse()
	test.That(t, err, test.ShouldBeNil)
	boardW := float64(s.Width+1) * s.Square
	boardH := float64(s.Height+1) * s.Square

	img := image.NewGray(image.Rect(0, 0, s.Intrinsics.Width, s.Intrinsics.Height))
	const ss = 4
	for y := 0; y < s.Intrinsics.Height; y++ {
		for x := 0; x < s.Intrinsics.Width; x++ {
			sum := 0.
			for sy := 0; sy < ss; sy++ {
				for sx := 0; sx < ss; sx++ {
					p := inv.Apply(r2.Point{
						X: float64(x) - 0.5 + (float64(sx)+0.5)/ss,
						Y: float64(y) - 0.5 + (float64(sy)+0.5)/ss,
					})
					v := 235.
					if p.X >= 0 && p.Y >= 0 && p.X < boardW && p.Y < boardH &&
						(int(math.Floor(p.X/s.Square))+int(math.Floor(p.Y/s.Square)))%2 == 0 {
						v = 20
					}
					sum += v
				}
			}
			img.SetGray(x, y, color.Gray{uint8(math.Round(sum / ss / ss))})
		}
	}
	return img
}
