// Package shape extracts and compares geometric shapes from challenge
// screenshots. It is pure computation with no I/O: binarization,
// connected-component extraction, and a moment-based dissimilarity
// score used to match a puzzle piece against candidate targets.
package shape

import (
	"image"
	"image/color"
)

// Shape is a single connected component extracted from a binarized
// image. Coordinates are absolute within the source image. Immutable
// once extracted.
type Shape struct {
	MinX int
	MinY int

	// Mask is the pixel-occupancy mask of the bounding box, indexed
	// [y][x] relative to (MinX, MinY).
	Mask [][]bool

	Area      int
	CentroidX float64
	CentroidY float64
}

// Width returns the bounding-box width in pixels.
func (s *Shape) Width() int {
	if len(s.Mask) == 0 {
		return 0
	}
	return len(s.Mask[0])
}

// Height returns the bounding-box height in pixels.
func (s *Shape) Height() int {
	return len(s.Mask)
}

// ExtractOptions control binarization and component filtering.
type ExtractOptions struct {
	// LuminanceThreshold marks a pixel as ink when its grayscale value
	// is strictly below the threshold.
	LuminanceThreshold uint8

	// MinArea discards components below this pixel count.
	MinArea int

	// MinDimension and MaxDimensionFraction bound the accepted bounding
	// box: both sides must be at least MinDimension and at most
	// MaxDimensionFraction of the corresponding image dimension. This
	// removes sensor noise and the page background.
	MinDimension         int
	MaxDimensionFraction float64
}

// DefaultExtractOptions are the empirically calibrated values for the
// platform's challenge rendering.
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		LuminanceThreshold:   180,
		MinArea:              300,
		MinDimension:         15,
		MaxDimensionFraction: 0.8,
	}
}

// Extract binarizes img and returns every connected component that
// passes the size filters. Connectivity is 4-way.
func Extract(img image.Image, opts ExtractOptions) []*Shape {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	ink := binarize(img, opts.LuminanceThreshold)

	maxW := int(opts.MaxDimensionFraction * float64(w))
	maxH := int(opts.MaxDimensionFraction * float64(h))

	visited := make([]bool, w*h)
	var shapes []*Shape

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || !ink[idx] {
				continue
			}
			s := floodFill(ink, visited, w, h, x, y)
			if s.Area < opts.MinArea {
				continue
			}
			if s.Width() < opts.MinDimension || s.Height() < opts.MinDimension {
				continue
			}
			if s.Width() > maxW || s.Height() > maxH {
				continue
			}
			shapes = append(shapes, s)
		}
	}

	return shapes
}

func binarize(img image.Image, threshold uint8) []bool {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	ink := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			ink[y*w+x] = g.Y < threshold
		}
	}
	return ink
}

// floodFill collects the 4-connected component containing (sx, sy)
// using an explicit stack to avoid deep recursion on large regions.
func floodFill(ink, visited []bool, w, h, sx, sy int) *Shape {
	type point struct{ x, y int }

	stack := []point{{sx, sy}}
	visited[sy*w+sx] = true

	minX, minY := sx, sy
	maxX, maxY := sx, sy
	var pixels []point

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pixels = append(pixels, p)

		if p.x < minX {
			minX = p.x
		}
		if p.x > maxX {
			maxX = p.x
		}
		if p.y < minY {
			minY = p.y
		}
		if p.y > maxY {
			maxY = p.y
		}

		neighbors := [4]point{
			{p.x - 1, p.y},
			{p.x + 1, p.y},
			{p.x, p.y - 1},
			{p.x, p.y + 1},
		}
		for _, n := range neighbors {
			if n.x < 0 || n.x >= w || n.y < 0 || n.y >= h {
				continue
			}
			idx := n.y*w + n.x
			if visited[idx] || !ink[idx] {
				continue
			}
			visited[idx] = true
			stack = append(stack, n)
		}
	}

	mask := make([][]bool, maxY-minY+1)
	for i := range mask {
		mask[i] = make([]bool, maxX-minX+1)
	}

	var sumX, sumY float64
	for _, p := range pixels {
		mask[p.y-minY][p.x-minX] = true
		sumX += float64(p.x)
		sumY += float64(p.y)
	}

	n := float64(len(pixels))
	return &Shape{
		MinX:      minX,
		MinY:      minY,
		Mask:      mask,
		Area:      len(pixels),
		CentroidX: sumX / n,
		CentroidY: sumY / n,
	}
}

// SplitZones partitions shapes at the given fraction of the image
// width into the piece zone (left) and the target zone (right), per
// the challenge's fixed visual convention. The piece is the largest
// shape in the left zone. Returns a nil piece when the left zone is
// empty.
func SplitZones(shapes []*Shape, imageWidth int, pieceZoneFraction float64) (piece *Shape, targets []*Shape) {
	split := pieceZoneFraction * float64(imageWidth)

	for _, s := range shapes {
		if s.CentroidX < split {
			if piece == nil || s.Area > piece.Area {
				piece = s
			}
		} else {
			targets = append(targets, s)
		}
	}
	return piece, targets
}
