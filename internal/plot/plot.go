// Package plot renders the benchmark charts with gonum/plot.
package plot

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"octbench/internal/analysis"
)

// Colours of the comparison classes.
var (
	IntraColor = mustHex("#2ca02c", 0.7)
	InterColor = mustHex("#d62728", 0.7)
	CrossColor = mustHex("#1f77b4", 0.7)

	diagIntraColor = mustHex("#5cb85c", 0.9)
	diagInterColor = mustHex("#d9534f", 0.9)
)

// Bar is one comparison drawn with its 95% empirical interval.
type Bar struct {
	Label string
	Mean  float64
	Low   float64 // 2.5th percentile
	High  float64 // 97.5th percentile
	Star  bool
}

// Panel is one map type of an empirical figure.
type Panel struct {
	Title string
	Bars  []Bar
}

// ComparisonRank orders Intra before Inter before Cross.
func ComparisonRank(tag string) int {
	switch {
	case strings.Contains(tag, "Intra"):
		return 0
	case strings.Contains(tag, "Inter"):
		return 1
	}
	return 2
}

// ComparisonColor picks the class colour for a comparison tag.
func ComparisonColor(tag string) color.Color {
	switch ComparisonRank(tag) {
	case 0:
		return IntraColor
	case 1:
		return InterColor
	}
	return CrossColor
}

// SortBars orders bars by class rank, then label.
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		ri, rj := ComparisonRank(bars[i].Label), ComparisonRank(bars[j].Label)
		if ri != rj {
			return ri < rj
		}
		return bars[i].Label < bars[j].Label
	})
}

// errPoints feeds plotter.NewYErrorBars with asymmetric errors.
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// EmpiricalPanel writes a one-row figure with one bar chart per panel.
func EmpiricalPanel(path, metric string, panels []Panel) error {
	const (
		width  = 24 * vg.Inch
		height = 8 * vg.Inch
		header = 40
	)
	if len(panels) == 0 {
		return fmt.Errorf("no panels for %s", metric)
	}

	plots := make([][]*gplot.Plot, 1)
	for _, panel := range panels {
		p, err := panelPlot(panel, metric)
		if err != nil {
			return fmt.Errorf("%s panel %s: %w", metric, panel.Title, err)
		}
		plots[0] = append(plots[0], p)
	}

	img := vgimg.New(width, height)
	dc := draw.New(img)

	title := plots[0][0].Title.TextStyle
	title.Font.Size = vg.Points(20)
	dc.FillText(title, vg.Point{X: dc.Center().X, Y: dc.Max.Y - vg.Points(8)},
		fmt.Sprintf("Metric Performance: %s (Empirical 95%% Interval)", metric))

	body := draw.Crop(dc, 0, 0, 0, -vg.Points(header))
	tiles := draw.Tiles{
		Rows: 1, Cols: len(panels),
		PadX: vg.Millimeter * 6, PadY: vg.Millimeter * 4,
		PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 4,
		PadLeft: vg.Millimeter * 4, PadRight: vg.Millimeter * 4,
	}
	canvases := gplot.Align(plots, tiles, body)
	for j, p := range plots[0] {
		p.Draw(canvases[0][j])
	}

	return writePNG(path, vgimg.PngCanvas{Canvas: img})
}

func panelPlot(panel Panel, metric string) (*gplot.Plot, error) {
	p := gplot.New()
	p.Title.Text = panel.Title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Y.Label.Text = metric

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(grid)

	bars := append([]Bar(nil), panel.Bars...)
	SortBars(bars)

	var (
		names  []string
		errs   errPoints
		stars  plotter.XYLabels
		barW   = vg.Points(18)
		anyBar bool
	)
	for i, b := range bars {
		names = append(names, b.Label)
		if !finite(b.Mean, b.Low, b.High) {
			continue
		}
		bc, err := plotter.NewBarChart(plotter.Values{b.Mean}, barW)
		if err != nil {
			return nil, err
		}
		bc.XMin = float64(i)
		bc.Color = ComparisonColor(b.Label)
		bc.LineStyle.Width = 0
		p.Add(bc)
		anyBar = true

		errs.XYs = append(errs.XYs, plotter.XY{X: float64(i), Y: b.Mean})
		errs.YErrors = append(errs.YErrors, struct{ Low, High float64 }{b.Mean - b.Low, b.High - b.Mean})

		if b.Star {
			stars.XYs = append(stars.XYs, plotter.XY{X: float64(i), Y: b.High + (b.High-b.Low)*0.1})
			stars.Labels = append(stars.Labels, "*")
		}
	}

	if len(errs.XYs) > 0 {
		eb, err := plotter.NewYErrorBars(errs)
		if err != nil {
			return nil, err
		}
		eb.CapWidth = vg.Points(10)
		p.Add(eb)
	}
	if len(stars.XYs) > 0 {
		labels, err := plotter.NewLabels(stars)
		if err != nil {
			return nil, err
		}
		for i := range labels.TextStyle {
			labels.TextStyle[i].Font.Size = vg.Points(20)
			labels.TextStyle[i].XAlign = draw.XCenter
		}
		p.Add(labels)
	}

	if len(names) > 0 {
		p.NominalX(names...)
		p.X.Tick.Label.Rotation = math.Pi / 2
		p.X.Tick.Label.XAlign = draw.XRight
		p.X.Tick.Label.YAlign = draw.YCenter
	}
	if !anyBar {
		p.HideAxes()
	}
	return p, nil
}

// Group is one map type of a diagnostic figure.
type Group struct {
	Map   string
	Tier  analysis.Tier
	Intra analysis.Summary
	Inter analysis.Summary
}

// Diagnostic writes grouped intra/inter bars for one metric, labelling
// each map type with its significance stars.
func Diagnostic(path, metric, baseline, target string, groups []Group) error {
	if len(groups) == 0 {
		return fmt.Errorf("no data for %s", metric)
	}
	p := gplot.New()
	p.Title.Text = "Diagnostic Sensitivity: " + metric
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.Text = metric

	grid := plotter.NewGrid()
	grid.Vertical.Color = nil
	grid.Horizontal.Color = color.NRGBA{A: 102}
	grid.Horizontal.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(grid)

	const shift = 0.175
	labels := make([]string, len(groups))
	intraVals := make(plotter.Values, len(groups))
	interVals := make(plotter.Values, len(groups))
	var intraErr, interErr errPoints
	for i, g := range groups {
		labels[i] = g.Map
		if l := g.Tier.Label(); l != "" {
			labels[i] += "\n" + l
		}
		var missing []string
		if finite(g.Intra.Mean, g.Intra.P2_5, g.Intra.P97_5) {
			intraVals[i] = g.Intra.Mean
			intraErr.XYs = append(intraErr.XYs, plotter.XY{X: float64(i) - shift, Y: g.Intra.Mean})
			intraErr.YErrors = append(intraErr.YErrors, struct{ Low, High float64 }{g.Intra.Mean - g.Intra.P2_5, g.Intra.P97_5 - g.Intra.Mean})
		} else {
			missing = append(missing, "intra")
		}
		if finite(g.Inter.Mean, g.Inter.P2_5, g.Inter.P97_5) {
			interVals[i] = g.Inter.Mean
			interErr.XYs = append(interErr.XYs, plotter.XY{X: float64(i) + shift, Y: g.Inter.Mean})
			interErr.YErrors = append(interErr.YErrors, struct{ Low, High float64 }{g.Inter.Mean - g.Inter.P2_5, g.Inter.P97_5 - g.Inter.Mean})
		} else {
			missing = append(missing, "inter")
		}
		// Unbounded scores (PSNR of identical scans) have no bar height.
		if len(missing) > 0 {
			labels[i] += "\n" + strings.Join(missing, "/") + " unbounded"
		}
	}

	barW := vg.Points(40)
	intra, err := plotter.NewBarChart(intraVals, barW)
	if err != nil {
		return err
	}
	intra.XMin = -shift
	intra.Color = diagIntraColor
	intra.LineStyle.Color = color.Gray{Y: 128}
	intra.LineStyle.Width = vg.Points(0.5)

	inter, err := plotter.NewBarChart(interVals, barW)
	if err != nil {
		return err
	}
	inter.XMin = shift
	inter.Color = diagInterColor
	inter.LineStyle.Color = color.Gray{Y: 128}
	inter.LineStyle.Width = vg.Points(0.5)
	p.Add(intra, inter)

	for _, e := range []errPoints{intraErr, interErr} {
		if len(e.XYs) == 0 {
			continue
		}
		eb, err := plotter.NewYErrorBars(e)
		if err != nil {
			return err
		}
		eb.CapWidth = vg.Points(10)
		p.Add(eb)
	}

	p.Legend.Add(fmt.Sprintf("Intra-Class (%s)", baseline), intra)
	p.Legend.Add(fmt.Sprintf("Inter-Class (%s vs %s)", baseline, target), inter)
	p.Legend.Top = true

	p.NominalX(labels...)
	p.X.Tick.Label.Font.Size = vg.Points(11)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(9*vg.Inch, 6*vg.Inch, path)
}

func writePNG(path string, c vgimg.PngCanvas) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func mustHex(hex string, alpha float64) color.NRGBA {
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b); err != nil {
		panic(fmt.Sprintf("bad colour %q: %v", hex, err))
	}
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(alpha * 255))}
}
