package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

// MSE is the mean squared difference between a and b.
func MSE(a, b *mat.Dense) (float64, error) {
	if !imaging.SameShape(a, b) {
		return math.NaN(), imaging.ErrShapeMismatch
	}
	r, c := a.Dims()
	var diff mat.Dense
	diff.Sub(a, b)
	diff.MulElem(&diff, &diff)
	return mat.Sum(&diff) / float64(r*c), nil
}

// PSNR is the peak signal-to-noise ratio in dB for the given data range.
// Identical images give +Inf.
func PSNR(a, b *mat.Dense, dataRange float64) (float64, error) {
	mse, err := MSE(a, b)
	if err != nil {
		return math.NaN(), err
	}
	if mse == 0 {
		return math.Inf(1), nil
	}
	return 10 * math.Log10(dataRange*dataRange/mse), nil
}
