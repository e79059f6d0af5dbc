package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

// resampler is swapped for ImageMagick's Lanczos filter in imagick builds.
var resampler = resizeCatmullRom

// ResamplerName identifies the active resize backend.
var ResamplerName = "catmull-rom"

// Resize resamples m to rows×cols with an anti-aliasing kernel.
func Resize(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrEmptyImage
	}
	r, c := m.Dims()
	if r == rows && c == cols {
		return mat.DenseCopyOf(m), nil
	}
	out, err := resampler(m, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("resize %dx%d to %dx%d: %w", c, r, cols, rows, err)
	}
	return out, nil
}

// ResizeLike resamples m to the shape of ref.
func ResizeLike(m, ref *mat.Dense) (*mat.Dense, error) {
	rows, cols := ref.Dims()
	return Resize(m, rows, cols)
}

func resizeCatmullRom(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	src := toGray16(m)
	dst := image.NewGray16(image.Rect(0, 0, cols, rows))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return FromImage(dst, Luminance)
}

func toGray16(m *mat.Dense) *image.Gray16 {
	r, c := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, c, r))
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			v := math.Max(0, math.Min(1, m.At(y, x)))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}
