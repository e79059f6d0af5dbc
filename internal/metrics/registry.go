// Package metrics implements the full-reference similarity metrics compared
// by the benchmark and a registry that evaluates them per image pair.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

// Metric names in canonical column order.
const (
	NameMSE    = "MSE"
	NamePSNR   = "PSNR"
	NameSSIM   = "SSIM"
	NameMSSSIM = "MS-SSIM"
	NameVIF    = "VIF"
	NameLPIPS  = "LPIPS"
)

// Canonical lists every metric in the order used for CSV columns and plots.
var Canonical = []string{NameMSE, NamePSNR, NameSSIM, NameMSSSIM, NameVIF, NameLPIPS}

// Pair is one reference/target comparison. Paths are optional and only
// consulted by metrics that need files on disk.
type Pair struct {
	Ref, Target         *mat.Dense
	RefPath, TargetPath string
}

type inputs struct {
	Pair
	ref8, tgt8 *mat.Dense
}

type computeFunc func(ctx context.Context, in *inputs) (float64, error)

// Metric describes one registered metric and whether it can run.
type Metric struct {
	Name      string
	Available bool
	Reason    string
	compute   computeFunc
}

// Registry evaluates an ordered set of metrics.
type Registry struct {
	metrics []Metric
	log     *slog.Logger
}

// NewRegistry builds a registry for the requested metric names. Names are
// reordered canonically; unknown names are an error.
func NewRegistry(names []string, lpips *LPIPSScorer, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	r := &Registry{log: logger}
	for _, name := range Canonical {
		if !want[name] {
			continue
		}
		delete(want, name)
		r.metrics = append(r.metrics, builtin(name, lpips))
	}
	for n := range want {
		return nil, fmt.Errorf("unknown metric %q", n)
	}
	return r, nil
}

func builtin(name string, lpips *LPIPSScorer) Metric {
	m := Metric{Name: name, Available: true}
	switch name {
	case NameMSE:
		m.compute = func(_ context.Context, in *inputs) (float64, error) { return MSE(in.Ref, in.Target) }
	case NamePSNR:
		m.compute = func(_ context.Context, in *inputs) (float64, error) { return PSNR(in.Ref, in.Target, 1) }
	case NameSSIM:
		m.compute = func(_ context.Context, in *inputs) (float64, error) { return SSIM(in.Ref, in.Target, 1) }
	case NameMSSSIM:
		m.compute = func(_ context.Context, in *inputs) (float64, error) { return MSSSIM(in.ref8, in.tgt8) }
	case NameVIF:
		m.compute = func(_ context.Context, in *inputs) (float64, error) { return VIFP(in.ref8, in.tgt8) }
	case NameLPIPS:
		if !lpips.Available() {
			m.Available = false
			m.Reason = "no lpips scorer configured or found on PATH"
		}
		m.compute = func(ctx context.Context, in *inputs) (float64, error) { return lpips.ScorePair(ctx, in.Pair) }
	}
	return m
}

// Metrics returns every requested metric with its availability.
func (r *Registry) Metrics() []Metric {
	return append([]Metric(nil), r.metrics...)
}

// Names returns the available metric names in canonical order.
func (r *Registry) Names() []string {
	var names []string
	for _, m := range r.metrics {
		if m.Available {
			names = append(names, m.Name)
		}
	}
	return names
}

// Compute scores the pair with every available metric. A metric that fails
// or panics records NaN. Mismatched shapes are rejected as a whole.
func (r *Registry) Compute(ctx context.Context, p Pair) (map[string]float64, error) {
	if !imaging.SameShape(p.Ref, p.Target) {
		return nil, imaging.ErrShapeMismatch
	}
	in := &inputs{Pair: p, ref8: imaging.ToUint8(p.Ref), tgt8: imaging.ToUint8(p.Target)}

	out := make(map[string]float64, len(r.metrics))
	for _, m := range r.metrics {
		if !m.Available {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[m.Name] = r.run(ctx, m, in)
	}
	return out, nil
}

func (r *Registry) run(ctx context.Context, m Metric, in *inputs) (v float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("metric panicked", "metric", m.Name, "panic", rec)
			v = math.NaN()
		}
	}()
	v, err := m.compute(ctx, in)
	if err != nil {
		r.log.Debug("metric failed", "metric", m.Name, "ref", in.RefPath, "target", in.TargetPath, "error", err)
		return math.NaN()
	}
	return v
}
