// Package physmap derives optical attenuation and speckle contrast maps
// from structural OCT B-scans.
package physmap

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"octbench/internal/analysis"
	"octbench/internal/config"
	"octbench/internal/imaging"
)

const epsilon = 1e-10

// Options controls map generation.
type Options struct {
	PixelSize     float64 // axial pixel size in microns
	WindowSize    int     // speckle contrast window
	OACPercentile float64 // upper display limit of the OAC map
	SCMin, SCMax  float64 // display limits of SC and RSC maps
}

// DefaultOptions matches the reference dataset acquisition.
func DefaultOptions() Options {
	return Options{PixelSize: 6.0, WindowSize: 20, OACPercentile: 99, SCMin: 0.5, SCMax: 5.0}
}

// FromConfig converts the user map settings, keeping defaults for unset values.
func FromConfig(m config.MapSettings) Options {
	opts := DefaultOptions()
	if m.PixelSizeMicrons > 0 {
		opts.PixelSize = m.PixelSizeMicrons
	}
	if m.WindowSize > 0 {
		opts.WindowSize = m.WindowSize
	}
	if m.OACPercentile > 0 {
		opts.OACPercentile = m.OACPercentile
	}
	if m.SCMax > m.SCMin {
		opts.SCMin, opts.SCMax = m.SCMin, m.SCMax
	}
	return opts
}

// Paths lists the structural scan and the maps generated from it.
type Paths struct {
	Struct string
	OAC    string
	SC     string
	RSC    string
}

// Map returns the path for a map type name (Struct, OAC, SC or RSC).
func (p Paths) Map(name string) string {
	switch name {
	case "OAC":
		return p.OAC
	case "SC":
		return p.SC
	case "RSC":
		return p.RSC
	default:
		return p.Struct
	}
}

// Linearize converts display values in [0,1] (0..40 dB) back to linear intensity.
func Linearize(g *mat.Dense) *mat.Dense {
	r, c := g.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Pow(10, 4*v)
	}, g)
	return out
}

// OAC estimates the depth-resolved attenuation coefficient. Depth runs down
// the rows; each pixel is divided by twice the pixel size times the
// intensity remaining beneath it.
func OAC(intensity *mat.Dense, pixelSize float64) *mat.Dense {
	r, c := intensity.Dims()
	out := mat.NewDense(r, c, nil)
	for x := 0; x < c; x++ {
		var below float64
		for y := r - 1; y >= 0; y-- {
			v := intensity.At(y, x)
			below += v
			out.Set(y, x, v/(2*pixelSize*(below-0.5*v+epsilon)))
		}
	}
	return out
}

// SpeckleContrast returns σ/μ over a window×window neighbourhood. The
// border half-window is replaced by the nearest interior value.
func SpeckleContrast(data *mat.Dense, window int) (*mat.Dense, error) {
	var sq mat.Dense
	sq.MulElem(data, data)
	mean := imaging.UniformFilter(data, window)
	meanSq := imaging.UniformFilter(&sq, window)

	r, c := data.Dims()
	sc := mat.NewDense(r, c, nil)
	sc.Apply(func(i, j int, _ float64) float64 {
		m := mean.At(i, j)
		v := math.Max(meanSq.At(i, j)-m*m, 0)
		return math.Sqrt(v) / (m + epsilon)
	}, sc)

	border := window / 2
	if border == 0 {
		return sc, nil
	}
	cropped, err := imaging.Crop(sc, border)
	if err != nil {
		return nil, fmt.Errorf("speckle contrast: %w", err)
	}
	return imaging.EdgePad(cropped, border), nil
}

// Generate writes <base>_OAC.png, <base>_SC.png and <base>_RSC.png next to
// the structural scan at path.
func Generate(path string, opts Options) (Paths, error) {
	g, err := imaging.LoadMode(path, imaging.ChannelMean)
	if err != nil {
		return Paths{}, err
	}
	if mat.Max(g) > 1 {
		g.Scale(1.0/255, g)
	}
	intensity := Linearize(g)

	base := strings.TrimSuffix(path, filepath.Ext(path))
	paths := Paths{
		Struct: path,
		OAC:    base + "_OAC.png",
		SC:     base + "_SC.png",
		RSC:    base + "_RSC.png",
	}

	mu := OAC(intensity, opts.PixelSize)
	muData := flatten(mu)
	vmax := analysis.Percentile(muData, opts.OACPercentile)
	if err := imaging.SavePNG(paths.OAC, imaging.Normalize(mu, floats.Min(muData), vmax)); err != nil {
		return Paths{}, fmt.Errorf("save oac map: %w", err)
	}

	sc, err := SpeckleContrast(intensity, opts.WindowSize)
	if err != nil {
		return Paths{}, err
	}
	if err := imaging.SavePNG(paths.SC, imaging.Normalize(sc, opts.SCMin, opts.SCMax)); err != nil {
		return Paths{}, fmt.Errorf("save sc map: %w", err)
	}

	rsc, err := SpeckleContrast(mu, opts.WindowSize)
	if err != nil {
		return Paths{}, err
	}
	if err := imaging.SavePNG(paths.RSC, imaging.Normalize(rsc, opts.SCMin, opts.SCMax)); err != nil {
		return Paths{}, fmt.Errorf("save rsc map: %w", err)
	}
	return paths, nil
}

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}
