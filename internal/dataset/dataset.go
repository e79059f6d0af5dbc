// Package dataset discovers scan sets inside an experiment directory and
// plans which image pairs are compared.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"octbench/internal/fsutil"
)

// MapTypes are the image representations evaluated for every scan.
var MapTypes = []string{"Struct", "OAC", "SC", "RSC"}

// DefaultNeighborDepth bounds how many neighbouring indices a scan is compared with.
const DefaultNeighborDepth = 5

// ErrNoScans is returned when a set holds no structural scans.
var ErrNoScans = errors.New("no structural scans found")

// Class is the comparison category of a pair of sets.
type Class string

const (
	Intra Class = "Intra"
	Inter Class = "Inter"
	Cross Class = "Cross"
)

// Comparison is one planned pairing of two sets.
type Comparison struct {
	A, B  string
	Class Class
	Tag   string
}

// Sets is the ordered list of set names found under an input directory.
type Sets struct {
	Names            []string
	Reference        string
	ReferenceMissing bool
}

// DiscoverSets lists the sub-directories of inputDir in name order, moving
// reference to the front. A missing reference is reported, not an error.
func DiscoverSets(inputDir, reference string) (Sets, error) {
	if _, err := os.Stat(inputDir); err != nil {
		return Sets{}, fmt.Errorf("input directory: %w", err)
	}
	names, err := fsutil.SubDirs(inputDir)
	if err != nil {
		return Sets{}, err
	}

	sets := Sets{Reference: reference, ReferenceMissing: true}
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		if n == reference {
			sets.ReferenceMissing = false
			continue
		}
		ordered = append(ordered, n)
	}
	if !sets.ReferenceMissing {
		ordered = append([]string{reference}, ordered...)
	}
	sets.Names = ordered
	return sets, nil
}

// Files returns the images of one set for a map type: the sorted structural
// scans, or the derived map paths alongside them.
func Files(inputDir, set, mapType string) ([]string, error) {
	scans, err := fsutil.ListScans(filepath.Join(inputDir, set))
	if err != nil {
		return nil, err
	}
	if mapType == "Struct" {
		return scans, nil
	}
	out := make([]string, len(scans))
	for i, s := range scans {
		out[i] = fsutil.MapPath(s, mapType)
	}
	return out, nil
}

// PlanComparisons enumerates every unordered pair of sets, including each
// set with itself, in the order of the given list.
func PlanComparisons(sets []string, reference string) []Comparison {
	var out []Comparison
	for i := 0; i < len(sets); i++ {
		for j := i; j < len(sets); j++ {
			out = append(out, classify(sets[i], sets[j], reference))
		}
	}
	return out
}

func classify(a, b, reference string) Comparison {
	c := Comparison{A: a, B: b}
	switch {
	case a == b:
		c.Class, c.Tag = Intra, "Intra_"+a
	case a == reference:
		c.Class, c.Tag = Inter, "Inter_"+b
	case b == reference:
		c.Class, c.Tag = Inter, "Inter_"+a
	default:
		c.Class, c.Tag = Cross, "Cross_"+a+"_vs_"+b
	}
	return c
}

// IndexPair addresses one image in each set.
type IndexPair struct {
	I, J int
}

// PairIndices lists the scan index pairs compared for a class. Intra pairs
// look forward up to depth scans; other classes look depth scans either side
// and skip the matching index.
func PairIndices(class Class, nA, nB, depth int) []IndexPair {
	var out []IndexPair
	for i := 0; i < nA; i++ {
		if class == Intra {
			for j := i + 1; j < min(i+1+depth, nA); j++ {
				out = append(out, IndexPair{i, j})
			}
			continue
		}
		for j := max(0, i-depth); j < min(nB, i+depth+1); j++ {
			if j == i {
				continue
			}
			out = append(out, IndexPair{i, j})
		}
	}
	return out
}
