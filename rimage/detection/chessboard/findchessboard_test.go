package chessboard

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/camcalib/rimage/transform"
	"go.viam.com/camcalib/testutils"
)

const (
	testSquare    = 20.
	testImgWidth  = 320
	testImgHeight = 240
)

var testPattern = PatternSize{Width: 7, Height: 5}

// renderBoard draws the test board seen with the rotation rvec and returns the expected corners in
// canonical order.
func renderBoard(t *testing.T, rvec r3.Vector) (*image.Gray, ChessGrid) {
	t.Helper()
	scene := testutils.BoardScene{
		Intrinsics: &transform.PinholeCameraIntrinsics{
			Width: testImgWidth, Height: testImgHeight, Fx: 400, Fy: 400, Ppx: 159.5, Ppy: 119.5,
		},
		Width:  testPattern.Width,
		Height: testPattern.Height,
		Square: testSquare,
	}
	scene.Pose = scene.CenteredPose(rvec, r3.Vector{}, 360)
	return scene.Render(t), ChessGrid(scene.Corners(t)).canonical()
}

func TestFindChessboard(t *testing.T) {
	for _, rvec := range []r3.Vector{
		{X: 0.2, Y: -0.15, Z: 0.1},
		{X: -0.1, Y: 0.2, Z: -0.05},
		{X: 0.05, Y: 0.1, Z: math.Pi / 2},
	} {
		img, expected := renderBoard(t, rvec)
		res := FindChessboard(img, testPattern, DefaultDetectionConf)
		test.That(t, res.Found, test.ShouldBeTrue)
		test.That(t, len(res.Corners), test.ShouldEqual, testPattern.NumCorners())
		var sum, worst float64
		for i, want := range expected.Flatten() {
			d := res.Corners[i].Sub(want).Norm()
			sum += d
			worst = math.Max(worst, d)
		}
		test.That(t, sum/float64(testPattern.NumCorners()), test.ShouldBeLessThan, 0.15)
		test.That(t, worst, test.ShouldBeLessThan, 0.35)

		// right handed, with the first corner at the top-left end
		first, second, below := res.Corners[0], res.Corners[1], res.Corners[testPattern.Width]
		test.That(t, second.Sub(first).Cross(below.Sub(first)), test.ShouldBeGreaterThan, 0)
		last := res.Corners[len(res.Corners)-1]
		test.That(t, first.X+first.Y, test.ShouldBeLessThan, last.X+last.Y)
	}
}

func TestFindChessboardWrongPattern(t *testing.T) {
	img, _ := renderBoard(t, r3.Vector{X: 0.2, Y: -0.15, Z: 0.1})
	res := FindChessboard(img, PatternSize{Width: 8, Height: 5}, DefaultDetectionConf)
	test.That(t, res.Found, test.ShouldBeFalse)
	test.That(t, res.Corners, test.ShouldBeNil)

	res = FindChessboard(img, PatternSize{Width: 1, Height: 5}, DefaultDetectionConf)
	test.That(t, res.Found, test.ShouldBeFalse)
}

func TestFindChessboardNoPattern(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, testImgWidth, testImgHeight))
	for i := range blank.Pix {
		blank.Pix[i] = 128
	}
	res := FindChessboard(blank, testPattern, DefaultDetectionConf)
	test.That(t, res.Found, test.ShouldBeFalse)

	dc := gg.NewContext(testImgWidth, testImgHeight)
	grad := gg.NewLinearGradient(0, 0, testImgWidth, testImgHeight)
	grad.AddColorStop(0, color.White)
	grad.AddColorStop(1, color.Black)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, testImgWidth, testImgHeight)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawCircle(100, 100, 40)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(200, 60, 60, 90)
	dc.Fill()
	res = FindChessboard(dc.Image(), testPattern, DefaultDetectionConf)
	test.That(t, res.Found, test.ShouldBeFalse)
	test.That(t, res.Corners, test.ShouldBeNil)

	res = FindChessboard(nil, testPattern, DefaultDetectionConf)
	test.That(t, res.Found, test.ShouldBeFalse)
}

func TestFindChessboardBatch(t *testing.T) {
	var imgs []image.Image
	for _, rvec := range []r3.Vector{
		{X: 0.2, Y: -0.15, Z: 0.1},
		{},
		{X: -0.1, Y: 0.2, Z: -0.05},
		{X: 0.15, Y: 0.1, Z: 0.3},
	} {
		img, _ := renderBoard(t, rvec)
		imgs = append(imgs, img)
	}
	imgs = append(imgs, image.NewGray(image.Rect(0, 0, 50, 50)))
	imgs[1], imgs[4] = imgs[4], imgs[1]

	sequential := make([]Result, len(imgs))
	for i, img := range imgs {
		sequential[i] = FindChessboard(img, testPattern, DefaultDetectionConf)
	}
	for i := 0; i < 3; i++ {
		batch, err := FindChessboardBatch(context.Background(), imgs, testPattern, DefaultDetectionConf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, batch, test.ShouldResemble, sequential)
	}
	test.That(t, sequential[1].Found, test.ShouldBeFalse)
	test.That(t, sequential[0].Found, test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FindChessboardBatch(ctx, imgs, testPattern, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestRefineCorners(t *testing.T) {
	img, expected := renderBoard(t, r3.Vector{X: -0.1, Y: 0.2, Z: -0.05})
	want := expected.Flatten()
	start := make([]r2.Point, len(want))
	for i, p := range want {
		start[i] = p.Add(r2.Point{X: 1.5, Y: -1.2})
	}
	refined := RefineCorners(img, start, 11, TermCriteria{Epsilon: 0.01, MaxIterations: 30})
	for i := range want {
		test.That(t, refined[i].Sub(want[i]).Norm(), test.ShouldBeLessThan, 0.2)
	}

	// without iterations the corners stay put
	once := RefineCorners(img, start, 11, TermCriteria{Epsilon: 0.01, MaxIterations: 0})
	test.That(t, once, test.ShouldResemble, start)
}

func TestCanonicalGrid(t *testing.T) {
	grid := ChessGrid{
		{{X: 30, Y: 10}, {X: 20, Y: 10}, {X: 10, Y: 10}},
		{{X: 30, Y: 20}, {X: 20, Y: 20}, {X: 10, Y: 20}},
	}
	test.That(t, grid.handedness(), test.ShouldEqual, -1)
	got := grid.canonical()
	test.That(t, got.handedness(), test.ShouldEqual, 1)
	test.That(t, got[0][0], test.ShouldResemble, r2.Point{X: 10, Y: 10})
	test.That(t, got[1][2], test.ShouldResemble, r2.Point{X: 30, Y: 20})

	square := ChessGrid{
		{{X: 20, Y: 20}, {X: 20, Y: 10}},
		{{X: 10, Y: 20}, {X: 10, Y: 10}},
	}
	got = square.canonical()
	test.That(t, got[0][0], test.ShouldResemble, r2.Point{X: 10, Y: 10})
	test.That(t, got.handedness(), test.ShouldEqual, 1)

	degenerate := ChessGrid{
		{{X: 0, Y: 0}, {X: 10, Y: 0}},
		{{X: 20, Y: 0}, {X: 30, Y: 0}},
	}
	test.That(t, degenerate.handedness(), test.ShouldEqual, 0)
}

func TestDrawCorners(t *testing.T) {
	img, expected := renderBoard(t, r3.Vector{X: 0.2, Y: -0.15, Z: 0.1})
	out := DrawCorners(img, testPattern, Result{Corners: expected.Flatten(), Found: true})
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	out = DrawCorners(img, testPattern, Result{})
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
}
