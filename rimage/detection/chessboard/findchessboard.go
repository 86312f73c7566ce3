package chessboard

import (
	"context"
	"image"

	"golang.org/x/sync/errgroup"

	"go.viam.com/camcalib/rimage"
	"go.viam.com/camcalib/utils"
)

// FindChessboard looks for the interior corners of a chessboard with the given pattern size. It returns
// Result{Found: false} when no complete and consistent grid is visible; it never fails otherwise.
// Found corners are refined to sub-pixel accuracy and ordered row-major, starting at the top-left corner of
// the grid, with rows running along +x.
func FindChessboard(img image.Image, pattern PatternSize, cfg DetectionConfiguration) Result {
	if img == nil || pattern.CheckValid() != nil {
		return Result{}
	}
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return Result{}
	}
	cfg = cfg.WithDefaults()

	blurred := rimage.BlurredLuminance(img, cfg.Saddle.BlurSigma)
	saddlePoints := GetSaddlePoints(blurred, &cfg.Saddle)
	grid, ok := findGrid(saddlePoints, pattern, &cfg.Grid)
	if !ok {
		return Result{}
	}
	corners := refineCorners(rimage.ConvertImageToLuminanceFloat(img), grid.Flatten(), cfg.WindowSize, cfg.Criteria)
	return Result{Corners: corners, Found: true}
}

// FindChessboardBatch runs FindChessboard on every image, in parallel, and returns the results in the order
// of imgs. It only fails when ctx is done before every image was processed.
func FindChessboardBatch(
	ctx context.Context,
	imgs []image.Image,
	pattern PatternSize,
	cfg DetectionConfiguration,
) ([]Result, error) {
	results := make([]Result, len(imgs))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(utils.ParallelFactor)
	for i, img := range imgs {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = FindChessboard(img, pattern, cfg)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
