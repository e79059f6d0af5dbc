package metrics

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

// MSSSIMWeights are the per-scale exponents, finest scale first.
var MSSSIMWeights = []float64{0.0448, 0.2856, 0.3001, 0.2363, 0.1333}

const (
	msssimWindow = 11
	msssimSigma  = 1.5
	maxUint8     = 255.0
)

// windowStats holds Gaussian-weighted local moments over the valid region.
type windowStats struct {
	muXSq, muYSq, muXY    *mat.Dense
	sigXSq, sigYSq, sigXY *mat.Dense
}

func localStats(x, y, win *mat.Dense) (windowStats, error) {
	var st windowStats
	mx, err := imaging.CorrelateValid(x, win)
	if err != nil {
		return st, err
	}
	my, err := imaging.CorrelateValid(y, win)
	if err != nil {
		return st, err
	}

	var xx, yy, xy mat.Dense
	xx.MulElem(x, x)
	yy.MulElem(y, y)
	xy.MulElem(x, y)
	fxx, err := imaging.CorrelateValid(&xx, win)
	if err != nil {
		return st, err
	}
	fyy, err := imaging.CorrelateValid(&yy, win)
	if err != nil {
		return st, err
	}
	fxy, err := imaging.CorrelateValid(&xy, win)
	if err != nil {
		return st, err
	}

	st.muXSq, st.muYSq, st.muXY = &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	st.muXSq.MulElem(mx, mx)
	st.muYSq.MulElem(my, my)
	st.muXY.MulElem(mx, my)

	st.sigXSq, st.sigYSq, st.sigXY = &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	st.sigXSq.Sub(fxx, st.muXSq)
	st.sigYSq.Sub(fyy, st.muYSq)
	st.sigXY.Sub(fxy, st.muXY)
	return st, nil
}

// gaussianSSIM returns the mean SSIM and mean contrast-structure term for one scale.
func gaussianSSIM(x, y, win *mat.Dense, maxVal float64) (ssim, cs float64, err error) {
	st, err := localStats(x, y, win)
	if err != nil {
		return 0, 0, err
	}
	c1 := math.Pow(ssimK1*maxVal, 2)
	c2 := math.Pow(ssimK2*maxVal, 2)

	r, c := st.muXY.Dims()
	var sumSSIM, sumCS float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			csTerm := (2*st.sigXY.At(i, j) + c2) / (st.sigXSq.At(i, j) + st.sigYSq.At(i, j) + c2)
			lum := (2*st.muXY.At(i, j) + c1) / (st.muXSq.At(i, j) + st.muYSq.At(i, j) + c1)
			sumSSIM += lum * csTerm
			sumCS += csTerm
		}
	}
	n := float64(r * c)
	return sumSSIM / n, sumCS / n, nil
}

// MSSSIM computes multi-scale SSIM on 8-bit data (values 0..255). Negative
// per-scale terms are raised to their weights in the complex plane and the
// real part of the product is returned.
func MSSSIM(a, b *mat.Dense) (float64, error) {
	if !imaging.SameShape(a, b) {
		return math.NaN(), imaging.ErrShapeMismatch
	}
	win := imaging.GaussianKernel(msssimWindow, msssimSigma)
	scales := len(MSSSIMWeights)

	ssims := make([]float64, scales)
	css := make([]float64, scales)
	x, y := a, b
	for s := 0; s < scales; s++ {
		ss, cs, err := gaussianSSIM(x, y, win, maxUint8)
		if err != nil {
			return math.NaN(), fmt.Errorf("ms-ssim scale %d: %w", s+1, err)
		}
		ssims[s], css[s] = ss, cs
		x, y = imaging.Downsample(x), imaging.Downsample(y)
	}

	prod := complex(1, 0)
	for s := 0; s < scales-1; s++ {
		prod *= powComplex(css[s], MSSSIMWeights[s])
	}
	prod *= powComplex(ssims[scales-1], MSSSIMWeights[scales-1])
	return real(prod), nil
}

func powComplex(base, exp float64) complex128 {
	if base == 0 {
		return 0
	}
	return cmplx.Pow(complex(base, 0), complex(exp, 0))
}
