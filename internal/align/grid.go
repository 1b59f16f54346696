package align

import "math"

// Direction records which predecessor a cell's cumulative cost came from.
type Direction uint8

const (
	Origin   Direction = iota // (0,0) only
	Diagonal                  // (r-1, c-1)
	Up                        // (r-1, c): reference advanced, learner held
	Left                      // (r, c-1): learner advanced, reference held
)

func (d Direction) String() string {
	switch d {
	case Origin:
		return "origin"
	case Diagonal:
		return "diagonal"
	case Up:
		return "up"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

type cell struct {
	cumulative float64
	local      float64
	from       Direction
}

// grid stores only the in-band diagonal corridor: row r keeps columns
// r-band .. r+band at offsets 0 .. 2*band.
type grid struct {
	rows, cols, band int
	width            int
	cells            []cell

	// populated cells and the sum of their local costs, for confidence
	count    int
	localSum float64
}

func newGrid(rows, cols, band int) *grid {
	width := 2*band + 1
	cells := make([]cell, rows*width)
	inf := math.Inf(1)
	for i := range cells {
		cells[i] = cell{cumulative: inf, local: inf}
	}
	return &grid{rows: rows, cols: cols, band: band, width: width, cells: cells}
}

func (g *grid) inBand(r, c int) bool {
	if r < 0 || c < 0 || r >= g.rows || c >= g.cols {
		return false
	}
	d := c - r
	return d >= -g.band && d <= g.band
}

func (g *grid) at(r, c int) *cell {
	return &g.cells[r*g.width+c-r+g.band]
}

// cumulative returns +Inf for cells outside the band.
func (g *grid) cumulative(r, c int) float64 {
	if !g.inBand(r, c) {
		return math.Inf(1)
	}
	return g.at(r, c).cumulative
}

// fill runs the dynamic program. Among equal-cost predecessors the first in
// the order Diagonal, Up, Left wins.
func (g *grid) fill(cost func(r, c int) float64) {
	for r := 0; r < g.rows; r++ {
		lo := max(0, r-g.band)
		hi := min(g.cols-1, r+g.band)
		for c := lo; c <= hi; c++ {
			local := cost(r, c)
			g.count++
			g.localSum += local

			cur := g.at(r, c)
			cur.local = local
			if r == 0 && c == 0 {
				cur.cumulative = local
				cur.from = Origin
				continue
			}

			best := math.Inf(1)
			from := Origin
			candidates := [...]struct {
				dir  Direction
				r, c int
			}{
				{Diagonal, r - 1, c - 1},
				{Up, r - 1, c},
				{Left, r, c - 1},
			}
			for _, p := range candidates {
				v := g.cumulative(p.r, p.c)
				if math.IsInf(v, 1) {
					continue
				}
				if v < best {
					best = v
					from = p.dir
				}
			}
			if math.IsInf(best, 1) {
				continue
			}
			cur.cumulative = best + local
			cur.from = from
		}
	}
}

// terminal scans the last row, then the last column, for the in-band cell
// with the lowest cumulative cost. The far corner is considered first so it
// wins ties.
func (g *grid) terminal() (int, int, bool) {
	bestR, bestC := -1, -1
	best := math.Inf(1)
	consider := func(r, c int) {
		if !g.inBand(r, c) {
			return
		}
		if v := g.at(r, c).cumulative; v < best {
			best, bestR, bestC = v, r, c
		}
	}

	last := g.rows - 1
	consider(last, g.cols-1)
	for c := max(0, last-g.band); c <= min(g.cols-1, last+g.band); c++ {
		consider(last, c)
	}
	lastCol := g.cols - 1
	for r := max(0, lastCol-g.band); r <= min(g.rows-1, lastCol+g.band); r++ {
		consider(r, lastCol)
	}
	return bestR, bestC, bestR >= 0
}

// backtrace follows recorded directions from (r, c) to the origin and returns
// the path in forward order.
func (g *grid) backtrace(r, c int) []Step {
	path := make([]Step, 0, r+c+1)
	for {
		cur := g.at(r, c)
		path = append(path, Step{Ref: r, Learner: c, Cost: cur.local})
		switch cur.from {
		case Diagonal:
			r, c = r-1, c-1
		case Up:
			r--
		case Left:
			c--
		default:
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
	}
}

// meanLocal is the mean local cost over every populated cell.
func (g *grid) meanLocal() float64 {
	if g.count == 0 {
		return 0
	}
	return g.localSum / float64(g.count)
}
