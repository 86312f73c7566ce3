package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

// ConvertImageToLuminanceFloat converts any image to a single channel *mat.Dense of luminance values
// in [0, 255]. Rows are image rows (y) and columns are image columns (x).
func ConvertImageToLuminanceFloat(img image.Image) *mat.Dense {
	return nrgbaToLuminance(imaging.Grayscale(img))
}

// BlurredLuminance converts the image to luminance after a Gaussian blur of the given sigma.
// A sigma <= 0 skips the blur.
func BlurredLuminance(img image.Image, sigma float64) *mat.Dense {
	gray := imaging.Grayscale(img)
	if sigma > 0 {
		gray = imaging.Blur(gray, sigma)
	}
	return nrgbaToLuminance(gray)
}

// nrgbaToLuminance reads the red channel of a grayscale NRGBA image, which holds the luminance.
func nrgbaToLuminance(gray *image.NRGBA) *mat.Dense {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			data[y*w+x] = float64(row[x*4])
		}
	}
	return mat.NewDense(h, w, data)
}
