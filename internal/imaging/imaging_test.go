package imaging

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func ramp(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.Set(y, x, float64(y*cols+x)/float64(rows*cols))
		}
	}
	return m
}

func TestReflectIndex(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{-1, 4, 0}, {-2, 4, 1}, {4, 4, 3}, {5, 4, 2}, {2, 4, 2}, {-9, 4, 0}, {3, 1, 0},
	}
	for _, tc := range cases {
		if got := reflectIndex(tc.i, tc.n); got != tc.want {
			t.Fatalf("reflectIndex(%d,%d) = %d, want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func TestUniformFilterConstantIsIdentity(t *testing.T) {
	m := mat.NewDense(9, 11, nil)
	for i := range m.RawMatrix().Data {
		m.RawMatrix().Data[i] = 0.25
	}
	for _, size := range []int{2, 7, 20} {
		out := UniformFilter(m, size)
		if !mat.EqualApprox(out, m, 1e-12) {
			t.Fatalf("size %d changed a constant image", size)
		}
	}
}

func TestUniformFilterSizeTwoAveragesPrevious(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{1, 3, 5, 7})
	out := UniformFilter(m, 2)
	want := []float64{1, 2, 4, 6}
	for i, w := range want {
		if got := out.At(0, i); math.Abs(got-w) > 1e-12 {
			t.Fatalf("index %d: got %v, want %v", i, got, w)
		}
	}
}

func TestGaussianKernelNormalised(t *testing.T) {
	k := GaussianKernel(11, 1.5)
	if s := mat.Sum(k); math.Abs(s-1) > 1e-12 {
		t.Fatalf("expected unit sum, got %v", s)
	}
	if k.At(5, 5) <= k.At(5, 6) || k.At(0, 0) != k.At(10, 10) {
		t.Fatalf("kernel should peak at the centre and be symmetric")
	}
}

func TestCorrelateValidShapeAndValues(t *testing.T) {
	m := ramp(6, 8)
	k := mat.NewDense(3, 3, nil)
	k.Set(1, 1, 1)
	out, err := CorrelateValid(m, k)
	if err != nil {
		t.Fatal(err)
	}
	r, c := out.Dims()
	if r != 4 || c != 6 {
		t.Fatalf("expected 4x6 output, got %dx%d", r, c)
	}
	if out.At(0, 0) != m.At(1, 1) {
		t.Fatalf("centre tap should copy the interior pixel")
	}

	if _, err := CorrelateValid(mat.NewDense(2, 2, nil), GaussianKernel(11, 1.5)); err == nil {
		t.Fatal("expected error for image smaller than window")
	}
}

func TestDownsampleShape(t *testing.T) {
	out := Downsample(ramp(7, 10))
	r, c := out.Dims()
	if r != 4 || c != 5 {
		t.Fatalf("expected 4x5, got %dx%d", r, c)
	}
}

func TestCropAndEdgePad(t *testing.T) {
	m := ramp(10, 12)
	cropped, err := Crop(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	padded := EdgePad(cropped, 2)
	if !SameShape(padded, m) {
		t.Fatal("pad should restore the original shape")
	}
	if padded.At(0, 0) != m.At(2, 2) || padded.At(9, 11) != m.At(7, 9) {
		t.Fatal("edge padding should repeat the border samples")
	}
}

func TestToUint8Truncates(t *testing.T) {
	m := mat.NewDense(1, 4, []float64{0, 0.5, 0.999, 1})
	got := ToUint8(m).RawRowView(0)
	want := []float64{0, 127, 254, 255}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSavePNGAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", "Scan_1.png")
	m := mat.NewDense(2, 3, []float64{0, 0.25, 0.5, 0.75, 1, 0.1})
	if err := SavePNG(path, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !SameShape(loaded, m) {
		t.Fatalf("shape changed on round trip")
	}
	// 0.5 is written as level 128
	if got := loaded.At(0, 2); math.Abs(got-128.0/255) > 1e-12 {
		t.Fatalf("unexpected level %v", got)
	}
	if loaded.At(1, 1) != 1 {
		t.Fatalf("expected saturated white, got %v", loaded.At(1, 1))
	}
}

func TestLoadColourModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.png")
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lum, err := LoadMode(path, Luminance)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lum.At(0, 0)-0.2125) > 1e-9 {
		t.Fatalf("expected luminance 0.2125, got %v", lum.At(0, 0))
	}
	avg, err := LoadMode(path, ChannelMean)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(avg.At(0, 0)-1.0/3) > 1e-9 {
		t.Fatalf("expected channel mean 1/3, got %v", avg.At(0, 0))
	}
}

func TestResizeShape(t *testing.T) {
	out, err := Resize(ramp(16, 20), 8, 10)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	r, c := out.Dims()
	if r != 8 || c != 10 {
		t.Fatalf("expected 8x10, got %dx%d", r, c)
	}
	if _, err := Resize(ramp(4, 4), 0, 3); err == nil {
		t.Fatal("expected error for zero target size")
	}
}

func TestNormalizeClips(t *testing.T) {
	m := mat.NewDense(1, 3, []float64{-1, 2, 10})
	out := Normalize(m, 0, 4)
	if out.At(0, 0) != 0 || out.At(0, 2) != 1 {
		t.Fatalf("expected clipping, got %v", out.RawRowView(0))
	}
	if math.Abs(out.At(0, 1)-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %v", out.At(0, 1))
	}
}
