//go:build imagick

package imaging

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/gographics/imagick.v3/imagick"
)

func init() {
	resampler = resizeLanczos
	ResamplerName = "imagick-lanczos"
}

func resizeLanczos(m *mat.Dense, rows, cols int) (*mat.Dense, error) {
	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	r, c := m.Dims()
	pixels := make([]float64, 0, r*c)
	for y := 0; y < r; y++ {
		pixels = append(pixels, m.RawRowView(y)...)
	}
	if err := mw.ConstituteImage(uint(c), uint(r), "I", imagick.PIXEL_DOUBLE, pixels); err != nil {
		return nil, fmt.Errorf("constitute image: %w", err)
	}
	if err := mw.ResizeImage(uint(cols), uint(rows), imagick.FILTER_LANCZOS); err != nil {
		return nil, fmt.Errorf("lanczos resize: %w", err)
	}

	out, err := mw.ExportImagePixels(0, 0, uint(cols), uint(rows), "I", imagick.PIXEL_DOUBLE)
	if err != nil {
		return nil, fmt.Errorf("export pixels: %w", err)
	}
	data, ok := out.([]float64)
	if !ok || len(data) != rows*cols {
		return nil, fmt.Errorf("unexpected pixel export %T", out)
	}
	return mat.NewDense(rows, cols, data), nil
}
