package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/camcalib/rimage"
)

const ringSamples = 16

// saddleCandidate is a pixel where the luminance is locally shaped like an X-junction.
type saddleCandidate struct {
	Point r2.Point
	Score float64
}

// computeSaddleMap returns, for each pixel, the negated determinant of the Hessian of img, clamped at zero.
// Saddle points are where the determinant is negative, and a straight edge has a zero determinant.
func computeSaddleMap(img *mat.Dense) *mat.Dense {
	h, w := img.Dims()
	out := mat.NewDense(h, w, nil)
	raw := img.RawMatrix()
	at := func(y, x int) float64 { return raw.Data[y*raw.Stride+x] }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := at(y, x)
			gXX := at(y, x+1) - 2*c + at(y, x-1)
			gYY := at(y+1, x) - 2*c + at(y-1, x)
			gXY := (at(y+1, x+1) - at(y-1, x+1) - at(y+1, x-1) + at(y-1, x-1)) / 4
			if s := gXY*gXY - gXX*gYY; s > 0 {
				out.Set(y, x, s)
			}
		}
	}
	return out
}

// NonMaxSuppression keeps the pixels of saddleMap that are at least thresh and strictly larger than every
// earlier pixel of their (2*radius+1) window and no smaller than every later one.
func NonMaxSuppression(saddleMap *mat.Dense, radius int, thresh float64) []saddleCandidate {
	h, w := saddleMap.Dims()
	raw := saddleMap.RawMatrix()
	var out []saddleCandidate
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := raw.Data[y*raw.Stride+x]
			if v < thresh || v <= 0 {
				continue
			}
			isMax := true
			for dy := -radius; dy <= radius && isMax; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w || (dx == 0 && dy == 0) {
						continue
					}
					n := raw.Data[yy*raw.Stride+xx]
					earlier := dy < 0 || (dy == 0 && dx < 0)
					if n > v || (earlier && n == v) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				out = append(out, saddleCandidate{Point: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
	}
	return out
}

// passesRingTest samples the luminance on a circle around pt. An X-junction shows exactly four dark/bright
// transitions, enough contrast, and is point symmetric.
func passesRingTest(img *mat.Dense, pt r2.Point, cfg *SaddleConfiguration) bool {
	var ring [ringSamples]float64
	lo, hi, mean := math.Inf(1), math.Inf(-1), 0.
	for k := 0; k < ringSamples; k++ {
		theta := 2 * math.Pi * float64(k) / ringSamples
		v, ok := rimage.BilinearInterpolationFloat(img,
			pt.X+cfg.RingRadius*math.Cos(theta), pt.Y+cfg.RingRadius*math.Sin(theta))
		if !ok {
			return false
		}
		ring[k] = v
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		mean += v
	}
	contrast := hi - lo
	if contrast < cfg.MinContrast {
		return false
	}
	mean /= ringSamples

	transitions := 0
	asymmetry := 0.
	for k := 0; k < ringSamples; k++ {
		next := ring[(k+1)%ringSamples]
		if (ring[k] > mean) != (next > mean) {
			transitions++
		}
		asymmetry += math.Abs(ring[k] - ring[(k+ringSamples/2)%ringSamples])
	}
	asymmetry /= ringSamples
	return transitions == 4 && asymmetry < 0.25*contrast
}

// GetSaddlePoints returns the X-junction candidates of a luminance image, strongest first.
func GetSaddlePoints(img *mat.Dense, cfg *SaddleConfiguration) []r2.Point {
	saddleMap := computeSaddleMap(img)
	maxScore := mat.Max(saddleMap)
	if maxScore <= 0 {
		return nil
	}
	candidates := NonMaxSuppression(saddleMap, cfg.NMSRadius, cfg.RelativeThreshold*maxScore)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	points := make([]r2.Point, 0, len(candidates))
	for _, c := range candidates {
		if len(points) == cfg.MaxCandidates {
			break
		}
		if passesRingTest(img, c.Point, cfg) {
			points = append(points, c.Point)
		}
	}
	return points
}
