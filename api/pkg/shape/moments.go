package shape

import (
	"math"
)

// resampleSize normalizes every mask to a fixed grid before computing
// moments so that raw pixel-count differences between shapes of
// different sizes do not dominate the comparison.
const resampleSize = 32

// resample maps the mask onto an n-by-n grid by nearest sampling.
func (s *Shape) resample(n int) [][]bool {
	w := s.Width()
	h := s.Height()

	grid := make([][]bool, n)
	for gy := 0; gy < n; gy++ {
		grid[gy] = make([]bool, n)
		for gx := 0; gx < n; gx++ {
			sy := gy * h / n
			sx := gx * w / n
			grid[gy][gx] = s.Mask[sy][sx]
		}
	}
	return grid
}

// signedLog compresses values whose magnitude spans orders of
// magnitude while preserving sign: sign(x) * log10(|x|), with 0 -> 0.
func signedLog(x float64) float64 {
	if x == 0 {
		return 0
	}
	if x < 0 {
		return -math.Log10(-x)
	}
	return math.Log10(x)
}

// Descriptors returns the two rotation-invariant scalar descriptors of
// the shape: the sum of the second-order central moments, and the
// combination of their difference with the cross-moment. Both are
// stabilized with a signed-log transform.
func (s *Shape) Descriptors() (d1, d2 float64) {
	grid := s.resample(resampleSize)

	var m00, m10, m01, m20, m02, m11 float64
	for y := range grid {
		for x, on := range grid[y] {
			if !on {
				continue
			}
			fx := float64(x)
			fy := float64(y)
			m00++
			m10 += fx
			m01 += fy
			m20 += fx * fx
			m02 += fy * fy
			m11 += fx * fy
		}
	}
	if m00 == 0 {
		return 0, 0
	}

	cx := m10 / m00
	cy := m01 / m00

	// Central moments: translation invariant by construction.
	mu20 := m20 - cx*m10
	mu02 := m02 - cy*m01
	mu11 := m11 - cx*m01

	i1 := mu20 + mu02
	i2 := (mu20-mu02)*(mu20-mu02) + 4*mu11*mu11

	return signedLog(i1), signedLog(i2)
}

// Match pairs a piece with a candidate target, carrying the raw
// dissimilarity score (lower is more similar) and a derived confidence
// in [0,1].
type Match struct {
	Piece  *Shape
	Target *Shape

	Dissimilarity float64
	Confidence    float64
}

// Matcher scores shape pairs. AreaWeight is the weight of the area
// penalty term in the dissimilarity score.
type Matcher struct {
	AreaWeight float64
}

// NewMatcher returns a matcher with the given area-penalty weight.
func NewMatcher(areaWeight float64) *Matcher {
	return &Matcher{AreaWeight: areaWeight}
}

// Dissimilarity scores a pair of shapes. Every term is a symmetric
// difference or ratio, so the score is symmetric under swapping the
// arguments.
func (m *Matcher) Dissimilarity(a, b *Shape) float64 {
	a1, a2 := a.Descriptors()
	b1, b2 := b.Descriptors()

	minArea := math.Min(float64(a.Area), float64(b.Area))
	maxArea := math.Max(float64(a.Area), float64(b.Area))

	areaPenalty := 0.0
	if maxArea > 0 {
		areaPenalty = m.AreaWeight * (1 - minArea/maxArea)
	}

	return math.Abs(a1-b1) + math.Abs(a2-b2) + areaPenalty
}

// Confidence derives the [0,1] trust score from a dissimilarity value
// with an empirical linear decay.
func Confidence(dissimilarity float64) float64 {
	c := 1 - dissimilarity/2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// BestMatch scores the piece against every target and returns the
// minimum-dissimilarity pair. Returns nil when targets is empty.
func (m *Matcher) BestMatch(piece *Shape, targets []*Shape) *Match {
	var best *Match
	for _, t := range targets {
		d := m.Dissimilarity(piece, t)
		if best == nil || d < best.Dissimilarity {
			best = &Match{
				Piece:         piece,
				Target:        t,
				Dissimilarity: d,
				Confidence:    Confidence(d),
			}
		}
	}
	return best
}
