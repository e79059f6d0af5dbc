// Package analysis turns per-pair metric scores into empirical distributions,
// summary statistics and significance tiers.
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes one empirical distribution of metric values.
type Summary struct {
	Mean  float64
	P2_5  float64
	P97_5 float64
	Min   float64
	Max   float64
	Std   float64
	N     int
}

// Percentile returns the p-th percentile (0..100) of values using linear
// interpolation between closest ranks, at position p/100·(n−1).
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// DropNaN returns values with NaN entries removed.
func DropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Summarize computes mean, 95% empirical interval, range and population
// standard deviation. NaN values are ignored; ok is false when nothing remains.
func Summarize(values []float64) (Summary, bool) {
	v := DropNaN(values)
	if len(v) == 0 {
		return Summary{}, false
	}
	mean, std := stat.PopMeanStdDev(v, nil)
	return Summary{
		Mean:  mean,
		P2_5:  Percentile(v, 2.5),
		P97_5: Percentile(v, 97.5),
		Min:   floats.Min(v),
		Max:   floats.Max(v),
		Std:   std,
		N:     len(v),
	}, true
}

// Overlap reports whether the closed intervals [l1,h1] and [l2,h2] intersect.
func Overlap(l1, h1, l2, h2 float64) bool {
	return math.Max(l1, l2) <= math.Min(h1, h2)
}

// Tier is the significance level of the separation between two distributions.
type Tier int

const (
	TierNone Tier = iota
	TierOne       // 95% intervals disjoint
	TierTwo       // full ranges disjoint
	TierThree     // gap wider than the summed standard deviations
)

// Stars returns "*", "**", "***" or "".
func (t Tier) Stars() string {
	switch t {
	case TierOne:
		return "*"
	case TierTwo:
		return "**"
	case TierThree:
		return "***"
	}
	return ""
}

// Label returns the parenthesised star label, e.g. "(**)", or "".
func (t Tier) Label() string {
	if t == TierNone {
		return ""
	}
	return "(" + t.Stars() + ")"
}

func (t Tier) String() string {
	if t == TierNone {
		return "none"
	}
	return t.Stars()
}

// Classify grades how well the second distribution separates from the first.
func Classify(a, b Summary) Tier {
	if Overlap(a.P2_5, a.P97_5, b.P2_5, b.P97_5) {
		return TierNone
	}
	if Overlap(a.Min, a.Max, b.Min, b.Max) {
		return TierOne
	}
	var gap float64
	if a.Min > b.Max {
		gap = a.Min - b.Max
	} else {
		gap = b.Min - a.Max
	}
	if gap > a.Std+b.Std {
		return TierThree
	}
	return TierTwo
}

// ClassifyValues summarises both samples and grades their separation. ok is
// false when either sample has no non-NaN values. Infinite scores are kept.
func ClassifyValues(intra, inter []float64) (Tier, Summary, Summary, bool) {
	a, okA := Summarize(intra)
	b, okB := Summarize(inter)
	if !okA || !okB {
		return TierNone, a, b, false
	}
	return Classify(a, b), a, b, true
}
