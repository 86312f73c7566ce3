package chessboard

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/basicfont"
)

var rowColors = []color.RGBA{
	{255, 0, 0, 255},
	{255, 128, 0, 255},
	{200, 200, 0, 255},
	{0, 255, 0, 255},
	{0, 200, 200, 255},
	{0, 0, 255, 255},
	{255, 0, 255, 255},
}

// DrawCorners draws the detected corners over a copy of img. A found board is drawn as a polyline through
// the corners in order, one color per row, with the index of the first corner written next to it. Corners
// of a board that was not found are drawn as red circles.
func DrawCorners(img image.Image, pattern PatternSize, res Result) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(1)
	const radius = 4.

	if !res.Found || len(res.Corners) != pattern.NumCorners() {
		dc.SetColor(rowColors[0])
		for _, c := range res.Corners {
			dc.DrawCircle(c.X, c.Y, radius)
			dc.Stroke()
		}
		return dc.Image()
	}

	var prev *r2.Point
	for i, c := range res.Corners {
		dc.SetColor(rowColors[(i/pattern.Width)%len(rowColors)])
		dc.DrawCircle(c.X, c.Y, radius)
		dc.Stroke()
		if prev != nil {
			dc.DrawLine(prev.X, prev.Y, c.X, c.Y)
			dc.Stroke()
		}
		prev = &res.Corners[i]
	}
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(rowColors[0])
	first := res.Corners[0]
	dc.DrawString(strconv.Itoa(0), first.X+radius+1, first.Y-radius-1)
	return dc.Image()
}
