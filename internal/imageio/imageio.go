// Package imageio loads detector frames into grids and writes signal masks
// back out for inspection. Supported inputs are PNG (converted to grayscale
// counts) and binary PGM (P5, 8 or 16 bit), the common export formats for
// detector snapshots.
package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xtal-data/spotsieve/internal/grid"
)

// ReadImage loads an image file into a grid of float64 counts.
func ReadImage(path string) (*grid.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return readPNG(f)
	case ".pgm":
		return readPGM(f)
	default:
		return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}
}

func readPNG(r io.Reader) (*grid.Grid, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}

	bounds := img.Bounds()
	g := grid.New(bounds.Dx(), bounds.Dy())
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			// Gray16 round-trips 16-bit detector counts exactly; colour
			// inputs degrade to luminance, which is fine for debugging.
			c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			g.Set(x, y, float64(c.Y))
		}
	}
	return g, nil
}

// readPGM parses binary PGM (magic "P5"). Comments between header tokens are
// honoured; maxval decides 8 vs 16 bit samples (16 bit is big-endian).
func readPGM(r io.Reader) (*grid.Grid, error) {
	br := bufio.NewReader(r)

	magic, err := pgmToken(br)
	if err != nil {
		return nil, fmt.Errorf("read pgm magic: %w", err)
	}
	if magic != "P5" {
		return nil, fmt.Errorf("unsupported pgm magic %q, want P5", magic)
	}

	var width, height, maxval int
	for _, dst := range []*int{&width, &height, &maxval} {
		tok, err := pgmToken(br)
		if err != nil {
			return nil, fmt.Errorf("read pgm header: %w", err)
		}
		if _, err := fmt.Sscanf(tok, "%d", dst); err != nil {
			return nil, fmt.Errorf("parse pgm header token %q: %w", tok, err)
		}
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid pgm dimensions %dx%d", width, height)
	}
	if maxval <= 0 || maxval >= 1<<16 {
		return nil, fmt.Errorf("invalid pgm maxval %d", maxval)
	}

	bytesPerSample := 1
	if maxval > 255 {
		bytesPerSample = 2
	}
	raw := make([]byte, width*height*bytesPerSample)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("read pgm samples: %w", err)
	}

	g := grid.New(width, height)
	if bytesPerSample == 1 {
		for i, b := range raw {
			g.Data[i] = float64(b)
		}
	} else {
		for i := 0; i < len(g.Data); i++ {
			g.Data[i] = float64(uint16(raw[2*i])<<8 | uint16(raw[2*i+1]))
		}
	}
	return g, nil
}

// pgmToken returns the next whitespace-delimited header token, skipping
// '#' comments to end of line.
func pgmToken(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	inComment := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		switch {
		case inComment:
			if b == '\n' {
				inComment = false
			}
		case b == '#':
			inComment = true
		case b == ' ' || b == '\t' || b == '\r' || b == '\n':
			if sb.Len() > 0 {
				return sb.String(), nil
			}
		default:
			sb.WriteByte(b)
		}
	}
}

// WriteMaskPNG writes a bitmap as a black-and-white PNG, set bits white.
func WriteMaskPNG(path string, mask *grid.Bitmap) error {
	img := image.NewGray(image.Rect(0, 0, mask.W, mask.H))
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.At(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return writePNG(path, img)
}

// WriteGridPNG writes a grid as a 16-bit grayscale PNG, linearly scaled so
// the grid maximum maps to full white. Useful for eyeballing inputs.
func WriteGridPNG(path string, g *grid.Grid) error {
	maxV := 0.0
	for _, v := range g.Data {
		if v > maxV {
			maxV = v
		}
	}

	img := image.NewGray16(image.Rect(0, 0, g.W, g.H))
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			v := g.At(x, y)
			if maxV > 0 {
				v = v / maxV * 65535
			}
			if v < 0 {
				v = 0
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return writePNG(path, img)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
