package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

const (
	ssimWindow = 7
	ssimK1     = 0.01
	ssimK2     = 0.03
)

// SSIM computes the mean structural similarity of a and b using a 7×7
// uniform window with sample covariance. The border half-window is excluded
// from the mean.
func SSIM(a, b *mat.Dense, dataRange float64) (float64, error) {
	if !imaging.SameShape(a, b) {
		return math.NaN(), imaging.ErrShapeMismatch
	}
	r, c := a.Dims()
	if r < ssimWindow || c < ssimWindow {
		return math.NaN(), fmt.Errorf("ssim needs at least %dx%d pixels, got %dx%d", ssimWindow, ssimWindow, c, r)
	}

	np := float64(ssimWindow * ssimWindow)
	covNorm := np / (np - 1)
	c1 := math.Pow(ssimK1*dataRange, 2)
	c2 := math.Pow(ssimK2*dataRange, 2)

	var aa, bb, ab mat.Dense
	aa.MulElem(a, a)
	bb.MulElem(b, b)
	ab.MulElem(a, b)

	ux := imaging.UniformFilter(a, ssimWindow)
	uy := imaging.UniformFilter(b, ssimWindow)
	uxx := imaging.UniformFilter(&aa, ssimWindow)
	uyy := imaging.UniformFilter(&bb, ssimWindow)
	uxy := imaging.UniformFilter(&ab, ssimWindow)

	s := mat.NewDense(r, c, nil)
	s.Apply(func(i, j int, _ float64) float64 {
		mx, my := ux.At(i, j), uy.At(i, j)
		vx := covNorm * (uxx.At(i, j) - mx*mx)
		vy := covNorm * (uyy.At(i, j) - my*my)
		vxy := covNorm * (uxy.At(i, j) - mx*my)
		num := (2*mx*my + c1) * (2*vxy + c2)
		den := (mx*mx + my*my + c1) * (vx + vy + c2)
		return num / den
	}, s)

	cropped, err := imaging.Crop(s, (ssimWindow-1)/2)
	if err != nil {
		return math.NaN(), err
	}
	return imaging.Mean(cropped), nil
}
