package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
)

// gridIndex is the integer lattice coordinate of a corner, I along the first basis vector and J along the
// second.
type gridIndex struct {
	I, J int
}

var gridSteps = [4]gridIndex{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// lattice is a partially grown grid of candidates.
type lattice struct {
	points    []r2.Point
	used      []bool
	nodes     map[gridIndex]int
	basisU    r2.Point
	basisV    r2.Point
	maxSpan   int
	tolerance float64
	minI      int
	maxI      int
	minJ      int
	maxJ      int
}

// ChessGrid is a complete lattice of corners, indexed [row][column].
type ChessGrid [][]r2.Point

// findGrid tries seeds close to the centre of the candidates until one grows into a full lattice of the
// wanted pattern size.
func findGrid(points []r2.Point, pattern PatternSize, cfg *GridConfiguration) (ChessGrid, bool) {
	if len(points) < pattern.NumCorners() {
		return nil, false
	}
	var centroid r2.Point
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(points)))
	seeds := make([]int, len(points))
	for i := range seeds {
		seeds[i] = i
	}
	sort.SliceStable(seeds, func(a, b int) bool {
		return points[seeds[a]].Sub(centroid).Norm() < points[seeds[b]].Sub(centroid).Norm()
	})
	if len(seeds) > cfg.MaxSeeds {
		seeds = seeds[:cfg.MaxSeeds]
	}
	for _, seed := range seeds {
		lat, ok := newLattice(points, seed, pattern, cfg.SnapTolerance)
		if !ok {
			continue
		}
		lat.grow()
		if grid, ok := lat.extract(pattern); ok {
			return grid, true
		}
	}
	return nil, false
}

// newLattice starts a lattice at seed, with basis vectors pointing to the nearest candidate and to the
// nearest candidate that is not along the first direction.
func newLattice(points []r2.Point, seed int, pattern PatternSize, tolerance float64) (*lattice, bool) {
	origin := points[seed]
	nearest := func(accept func(d r2.Point) bool) (r2.Point, bool) {
		best, bestDist := r2.Point{}, math.Inf(1)
		for i, p := range points {
			if i == seed {
				continue
			}
			d := p.Sub(origin)
			if n := d.Norm(); n > 0 && n < bestDist && accept(d) {
				best, bestDist = d, n
			}
		}
		return best, !math.IsInf(bestDist, 1)
	}
	u, ok := nearest(func(r2.Point) bool { return true })
	if !ok {
		return nil, false
	}
	v, ok := nearest(func(d r2.Point) bool {
		return math.Abs(d.Dot(u))/(d.Norm()*u.Norm()) < 0.5
	})
	if !ok {
		return nil, false
	}
	if ratio := v.Norm() / u.Norm(); ratio > 3 {
		return nil, false
	}
	lat := &lattice{
		points:    points,
		used:      make([]bool, len(points)),
		nodes:     map[gridIndex]int{{0, 0}: seed},
		basisU:    u,
		basisV:    v,
		maxSpan:   max(pattern.Width, pattern.Height),
		tolerance: tolerance,
	}
	lat.used[seed] = true
	return lat, true
}

func (lat *lattice) at(idx gridIndex) (r2.Point, bool) {
	i, ok := lat.nodes[idx]
	if !ok {
		return r2.Point{}, false
	}
	return lat.points[i], true
}

// predict guesses where the neighbor of idx in direction step lies, preferring the local chain of corners,
// then a parallel row, then the seed basis.
func (lat *lattice) predict(idx, step gridIndex) r2.Point {
	p, _ := lat.at(idx)
	if prev, ok := lat.at(gridIndex{idx.I - step.I, idx.J - step.J}); ok {
		return p.Mul(2).Sub(prev)
	}
	side := gridIndex{step.J, step.I}
	for _, s := range [2]int{1, -1} {
		a, okA := lat.at(gridIndex{idx.I + s*side.I, idx.J + s*side.J})
		b, okB := lat.at(gridIndex{idx.I + s*side.I + step.I, idx.J + s*side.J + step.J})
		if okA && okB {
			return p.Add(b.Sub(a))
		}
	}
	return p.Add(lat.basisU.Mul(float64(step.I))).Add(lat.basisV.Mul(float64(step.J)))
}

// snap returns the closest unused candidate within tolerance*stepLength of pred.
func (lat *lattice) snap(pred r2.Point, stepLength float64) (int, bool) {
	best, bestDist := -1, lat.tolerance*stepLength
	for i, p := range lat.points {
		if lat.used[i] {
			continue
		}
		if d := p.Sub(pred).Norm(); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}

// grow adds neighbors breadth first until no prediction lands on a candidate or the lattice would become
// wider than the board.
func (lat *lattice) grow() {
	queue := []gridIndex{{0, 0}}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		p, _ := lat.at(idx)
		for _, step := range gridSteps {
			next := gridIndex{idx.I + step.I, idx.J + step.J}
			if _, ok := lat.nodes[next]; ok {
				continue
			}
			if max(lat.maxI, next.I)-min(lat.minI, next.I) >= lat.maxSpan ||
				max(lat.maxJ, next.J)-min(lat.minJ, next.J) >= lat.maxSpan {
				continue
			}
			pred := lat.predict(idx, step)
			found, ok := lat.snap(pred, pred.Sub(p).Norm())
			if !ok {
				continue
			}
			lat.nodes[next] = found
			lat.used[found] = true
			lat.minI, lat.maxI = min(lat.minI, next.I), max(lat.maxI, next.I)
			lat.minJ, lat.maxJ = min(lat.minJ, next.J), max(lat.maxJ, next.J)
			queue = append(queue, next)
		}
	}
}

// extract returns the lattice as a grid when it is complete, matches the pattern in either orientation and
// has a consistent handedness.
func (lat *lattice) extract(pattern PatternSize) (ChessGrid, bool) {
	spanI, spanJ := lat.maxI-lat.minI+1, lat.maxJ-lat.minJ+1
	if spanI*spanJ != len(lat.nodes) {
		return nil, false
	}
	var transpose bool
	switch {
	case spanI == pattern.Width && spanJ == pattern.Height:
	case spanI == pattern.Height && spanJ == pattern.Width:
		transpose = true
	default:
		return nil, false
	}
	grid := make(ChessGrid, pattern.Height)
	for r := range grid {
		grid[r] = make([]r2.Point, pattern.Width)
		for c := range grid[r] {
			idx := gridIndex{lat.minI + c, lat.minJ + r}
			if transpose {
				idx = gridIndex{lat.minI + r, lat.minJ + c}
			}
			p, ok := lat.at(idx)
			if !ok {
				return nil, false
			}
			grid[r][c] = p
		}
	}
	if grid.handedness() == 0 {
		return nil, false
	}
	return grid.canonical(), true
}

// handedness returns +1 when every cell turns clockwise in image coordinates (columns along +x, rows along
// +y), -1 when every cell turns the other way, and 0 when cells disagree or are degenerate.
func (g ChessGrid) handedness() int {
	sign := 0
	for r := 0; r+1 < len(g); r++ {
		for c := 0; c+1 < len(g[r]); c++ {
			cross := g[r][c+1].Sub(g[r][c]).Cross(g[r+1][c].Sub(g[r][c]))
			s := 1
			if cross < 0 {
				s = -1
			}
			if math.Abs(cross) < 1e-6 || (sign != 0 && s != sign) {
				return 0
			}
			sign = s
		}
	}
	return sign
}

// canonical orders the grid right handed and starting at the corner with the smallest x+y among the
// orderings that keep the pattern shape.
func (g ChessGrid) canonical() ChessGrid {
	if g.handedness() < 0 {
		g = g.mirror()
	}
	candidates := []ChessGrid{g, g.rotate180()}
	if len(g) == len(g[0]) {
		r90 := g.rotate90()
		candidates = append(candidates, r90, r90.rotate180())
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand[0][0].X+cand[0][0].Y < best[0][0].X+best[0][0].Y {
			best = cand
		}
	}
	return best
}

func (g ChessGrid) mirror() ChessGrid {
	out := make(ChessGrid, len(g))
	for r, row := range g {
		out[r] = make([]r2.Point, len(row))
		for c := range row {
			out[r][c] = row[len(row)-1-c]
		}
	}
	return out
}

func (g ChessGrid) rotate180() ChessGrid {
	rows, cols := len(g), len(g[0])
	out := make(ChessGrid, rows)
	for r := range out {
		out[r] = make([]r2.Point, cols)
		for c := range out[r] {
			out[r][c] = g[rows-1-r][cols-1-c]
		}
	}
	return out
}

// rotate90 is only used on square grids.
func (g ChessGrid) rotate90() ChessGrid {
	n := len(g)
	out := make(ChessGrid, n)
	for r := range out {
		out[r] = make([]r2.Point, n)
		for c := range out[r] {
			out[r][c] = g[n-1-c][r]
		}
	}
	return out
}

// Flatten returns the corners in row-major order.
func (g ChessGrid) Flatten() []r2.Point {
	var out []r2.Point
	for _, row := range g {
		out = append(out, row...)
	}
	return out
}
