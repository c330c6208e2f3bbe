// Package grid provides the row-major 2D sample and mask containers shared by
// the thresholding engine, the reflection filters and the image IO layer.
package grid

import "fmt"

// Grid is a fixed-size 2D array of float64 samples in row-major order.
// Index (x, y) maps to Data[y*W+x]. Grids are treated as read-only by the
// engines that consume them; the owner may mutate freely between calls.
type Grid struct {
	W, H int
	Data []float64
}

// New allocates a zeroed w×h grid.
func New(w, h int) *Grid {
	return &Grid{W: w, H: h, Data: make([]float64, w*h)}
}

// FromValues builds a grid from a row-major value slice. It panics if the
// slice length does not match w*h; this is a programming error, not input.
func FromValues(w, h int, values []float64) *Grid {
	if len(values) != w*h {
		panic(fmt.Sprintf("grid: %d values for %dx%d grid", len(values), w, h))
	}
	return &Grid{W: w, H: h, Data: values}
}

// At returns the sample at (x, y).
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.W+x] }

// Set writes the sample at (x, y).
func (g *Grid) Set(x, y int, v float64) { g.Data[y*g.W+x] = v }

// Len returns the number of cells.
func (g *Grid) Len() int { return g.W * g.H }

// SameShape reports whether the two grids have identical dimensions.
func (g *Grid) SameShape(o *Grid) bool { return g.W == o.W && g.H == o.H }

// Bitmap is a fixed-size 2D array of booleans congruent to a Grid. It serves
// both as a validity mask (true = valid pixel) and as a threshold result
// (true = signal).
type Bitmap struct {
	W, H int
	Bits []bool
}

// NewBitmap allocates an all-false w×h bitmap.
func NewBitmap(w, h int) *Bitmap {
	return &Bitmap{W: w, H: h, Bits: make([]bool, w*h)}
}

// NewBitmapFilled allocates a w×h bitmap with every cell set to v.
func NewBitmapFilled(w, h int, v bool) *Bitmap {
	b := NewBitmap(w, h)
	if v {
		for i := range b.Bits {
			b.Bits[i] = true
		}
	}
	return b
}

// At returns the bit at (x, y).
func (b *Bitmap) At(x, y int) bool { return b.Bits[y*b.W+x] }

// Set writes the bit at (x, y).
func (b *Bitmap) Set(x, y int, v bool) { b.Bits[y*b.W+x] = v }

// Len returns the number of cells.
func (b *Bitmap) Len() int { return b.W * b.H }

// CountTrue returns the number of set cells.
func (b *Bitmap) CountTrue() int {
	n := 0
	for _, v := range b.Bits {
		if v {
			n++
		}
	}
	return n
}

// MatchesGrid reports whether the bitmap has the same shape as the grid.
func (b *Bitmap) MatchesGrid(g *Grid) bool { return b.W == g.W && b.H == g.H }
