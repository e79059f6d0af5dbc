package imaging

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// reflectIndex maps i into [0,n) using half-sample symmetric extension
// (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// UniformFilter returns the moving average of m over a size×size window
// with reflected borders. For even sizes the window extends one sample
// further before the centre than after it.
func UniformFilter(m *mat.Dense, size int) *mat.Dense {
	r, c := m.Dims()
	if size <= 1 {
		return mat.DenseCopyOf(m)
	}
	lo := -(size / 2)

	tmp := mat.NewDense(r, c, nil)
	for y := 0; y < r; y++ {
		uniform1D(m.RawRowView(y), tmp.RawRowView(y), lo, size)
	}

	out := mat.NewDense(r, c, nil)
	col := make([]float64, r)
	res := make([]float64, r)
	for x := 0; x < c; x++ {
		mat.Col(col, x, tmp)
		uniform1D(col, res, lo, size)
		out.SetCol(x, res)
	}
	return out
}

func uniform1D(in, out []float64, lo, size int) {
	n := len(in)
	inv := 1 / float64(size)
	for i := range out {
		var s float64
		for k := 0; k < size; k++ {
			s += in[reflectIndex(i+lo+k, n)]
		}
		out[i] = s * inv
	}
}

// GaussianKernel builds a normalised ws×ws Gaussian window. Entries below
// machine epsilon times the peak are zeroed before normalisation.
func GaussianKernel(ws int, sigma float64) *mat.Dense {
	k := mat.NewDense(ws, ws, nil)
	half := ws / 2
	lo := -half
	if ws%2 == 0 {
		lo = -half + 1
	}
	var peak float64
	for y := 0; y < ws; y++ {
		for x := 0; x < ws; x++ {
			dy, dx := float64(lo+y), float64(lo+x)
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			k.Set(y, x, v)
			peak = math.Max(peak, v)
		}
	}
	eps := math.Nextafter(1, 2) - 1
	k.Apply(func(_, _ int, v float64) float64 {
		if v < eps*peak {
			return 0
		}
		return v
	}, k)
	if sum := mat.Sum(k); sum != 0 {
		k.Scale(1/sum, k)
	}
	return k
}

// CorrelateValid slides kernel k over m and keeps only positions where the
// kernel fits entirely inside the image.
func CorrelateValid(m, k *mat.Dense) (*mat.Dense, error) {
	r, c := m.Dims()
	kr, kc := k.Dims()
	or, oc := r-kr+1, c-kc+1
	if or <= 0 || oc <= 0 {
		return nil, fmt.Errorf("image %dx%d smaller than %dx%d window: %w", c, r, kc, kr, ErrEmptyImage)
	}

	src := m.RawMatrix()
	ker := k.RawMatrix()
	out := mat.NewDense(or, oc, nil)
	dst := out.RawMatrix()
	for y := 0; y < or; y++ {
		for x := 0; x < oc; x++ {
			var s float64
			for ky := 0; ky < kr; ky++ {
				srow := src.Data[(y+ky)*src.Stride+x:]
				krow := ker.Data[ky*ker.Stride : ky*ker.Stride+kc]
				for kx, w := range krow {
					s += w * srow[kx]
				}
			}
			dst.Data[y*dst.Stride+x] = s
		}
	}
	return out, nil
}

// Decimate keeps every second row and column, starting at the first.
func Decimate(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	nr, nc := (r+1)/2, (c+1)/2
	out := mat.NewDense(nr, nc, nil)
	for y := 0; y < nr; y++ {
		for x := 0; x < nc; x++ {
			out.Set(y, x, m.At(2*y, 2*x))
		}
	}
	return out
}

// Downsample halves m by a 2×2 box average followed by decimation.
func Downsample(m *mat.Dense) *mat.Dense {
	return Decimate(UniformFilter(m, 2))
}

// Crop removes pad rows and columns from every edge.
func Crop(m *mat.Dense, pad int) (*mat.Dense, error) {
	r, c := m.Dims()
	if r <= 2*pad || c <= 2*pad {
		return nil, fmt.Errorf("crop %d from %dx%d: %w", pad, c, r, ErrEmptyImage)
	}
	return mat.DenseCopyOf(m.Slice(pad, r-pad, pad, c-pad)), nil
}

// EdgePad grows m by pad on every edge, repeating the outermost samples.
func EdgePad(m *mat.Dense, pad int) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r+2*pad, c+2*pad, nil)
	for y := 0; y < r+2*pad; y++ {
		sy := clampIndex(y-pad, r)
		for x := 0; x < c+2*pad; x++ {
			out.Set(y, x, m.At(sy, clampIndex(x-pad, c)))
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Mean returns the arithmetic mean of all entries.
func Mean(m mat.Matrix) float64 {
	r, c := m.Dims()
	return mat.Sum(m) / float64(r*c)
}
