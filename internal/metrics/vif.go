package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

const (
	vifScales   = 4
	vifNoiseVar = 2.0
	vifEps      = 1e-10
)

// VIFP computes pixel-domain visual information fidelity of distorted b
// against reference a, both on 8-bit data.
func VIFP(a, b *mat.Dense) (float64, error) {
	if !imaging.SameShape(a, b) {
		return math.NaN(), imaging.ErrShapeMismatch
	}
	var num, den float64
	ref, dist := a, b
	for scale := 1; scale <= vifScales; scale++ {
		n := 1<<(vifScales-scale+1) + 1
		win := imaging.GaussianKernel(n, float64(n)/5)

		if scale > 1 {
			fr, err := imaging.CorrelateValid(ref, win)
			if err != nil {
				return math.NaN(), fmt.Errorf("vif scale %d: %w", scale, err)
			}
			fd, err := imaging.CorrelateValid(dist, win)
			if err != nil {
				return math.NaN(), fmt.Errorf("vif scale %d: %w", scale, err)
			}
			ref, dist = imaging.Decimate(fr), imaging.Decimate(fd)
		}

		st, err := localStats(ref, dist, win)
		if err != nil {
			return math.NaN(), fmt.Errorf("vif scale %d: %w", scale, err)
		}
		sn, sd := vifScaleTerms(st)
		num += sn
		den += sd
	}
	if den == 0 {
		return math.NaN(), errors.New("vif undefined for a flat reference")
	}
	return num / den, nil
}

// vifScaleTerms returns the information terms for one scale after clamping
// the gain and residual variance.
func vifScaleTerms(st windowStats) (num, den float64) {
	r, c := st.sigXY.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sx := math.Max(st.sigXSq.At(i, j), 0)
			sy := math.Max(st.sigYSq.At(i, j), 0)
			sxy := st.sigXY.At(i, j)

			g := sxy / (sx + vifEps)
			sv := sy - g*sxy
			if sx < vifEps {
				g = 0
				sv = sy
				sx = 0
			}
			if sy < vifEps {
				g = 0
				sv = 0
			}
			if g < 0 {
				sv = sy
				g = 0
			}
			if sv <= vifEps {
				sv = vifEps
			}

			num += math.Log10(1 + g*g*sx/(sv+vifNoiseVar))
			den += math.Log10(1 + sx/vifNoiseVar)
		}
	}
	return num, den
}
