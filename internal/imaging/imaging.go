// Package imaging loads, converts and writes the grayscale B-scans and
// physics maps the benchmark works on. Images are *mat.Dense matrices with
// one row per image row and values in [0,1].
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrEmptyImage is returned for images with a zero dimension.
	ErrEmptyImage = errors.New("image has zero size")
	// ErrShapeMismatch is returned when two images must share a shape and do not.
	ErrShapeMismatch = errors.New("image shapes differ")
)

// GrayMode selects how colour pixels collapse to a single channel.
type GrayMode int

const (
	// Luminance uses 0.2125R + 0.7154G + 0.0721B.
	Luminance GrayMode = iota
	// ChannelMean averages R, G and B, ignoring alpha.
	ChannelMean
)

// Load decodes the image at path into luminance gray in [0,1].
func Load(path string) (*mat.Dense, error) {
	return LoadMode(path, Luminance)
}

// LoadMode decodes the image at path with the given gray conversion.
func LoadMode(path string, mode GrayMode) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	g, err := FromImage(img, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// FromImage converts img to a gray matrix. Sample values are scaled by the
// source bit depth, so 8-bit and 16-bit inputs both land in [0,1].
func FromImage(img image.Image, mode GrayMode) (*mat.Dense, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}
	out := mat.NewDense(b.Dy(), b.Dx(), nil)
	raw := out.RawMatrix()

	for y := 0; y < b.Dy(); y++ {
		row := raw.Data[y*raw.Stride : y*raw.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch px := c.(type) {
			case color.Gray:
				row[x] = float64(px.Y) / 255
				continue
			case color.Gray16:
				row[x] = float64(px.Y) / 65535
				continue
			}
			r, g, bl, _ := c.RGBA()
			rf, gf, bf := float64(r)/65535, float64(g)/65535, float64(bl)/65535
			if mode == ChannelMean {
				row[x] = (rf + gf + bf) / 3
			} else {
				row[x] = 0.2125*rf + 0.7154*gf + 0.0721*bf
			}
		}
	}
	return out, nil
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

// ToUint8 quantises [0,1] values to 0..255 by truncation, keeping them as floats.
func ToUint8(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		q := math.Floor(v * 255)
		if q < 0 {
			return 0
		}
		if q > 255 {
			return 255
		}
		return q
	}, m)
	return out
}

// Normalize maps values linearly so vmin→0 and vmax→1, clipping outside that range.
func Normalize(m *mat.Dense, vmin, vmax float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	span := vmax - vmin + 1e-10
	out.Apply(func(_, _ int, v float64) float64 {
		n := (v - vmin) / span
		switch {
		case math.IsNaN(n):
			return 0
		case n < 0:
			return 0
		case n > 1:
			return 1
		}
		return n
	}, m)
	return out
}

// SavePNG writes m (values in [0,1]) as an 8-bit grayscale PNG. Levels follow
// a 256-entry lookup, so v maps to min(floor(256v), 255).
func SavePNG(path string, m *mat.Dense) error {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return ErrEmptyImage
	}
	img := image.NewGray(image.Rect(0, 0, c, r))
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			img.Pix[y*img.Stride+x] = level8(m.At(y, x))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func level8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	l := math.Floor(v * 256)
	if l > 255 {
		return 255
	}
	return uint8(l)
}
