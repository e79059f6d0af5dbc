package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func makeSet(t *testing.T, root, set string, scans ...string) {
	t.Helper()
	dir := filepath.Join(root, set)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, s := range scans {
		if err := os.WriteFile(filepath.Join(dir, s), []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDiscoverSetsMovesReferenceFirst(t *testing.T) {
	root := t.TempDir()
	for _, s := range []string{"Meso_Both", "Meso_Amp", "Meso_Thick"} {
		makeSet(t, root, s)
	}
	sets, err := DiscoverSets(root, "Meso_Thick")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Meso_Thick", "Meso_Amp", "Meso_Both"}
	if !reflect.DeepEqual(sets.Names, want) {
		t.Fatalf("got %v, want %v", sets.Names, want)
	}
	if sets.ReferenceMissing {
		t.Fatal("reference should be found")
	}
}

func TestDiscoverSetsMissingReferenceWarns(t *testing.T) {
	root := t.TempDir()
	makeSet(t, root, "B")
	makeSet(t, root, "A")
	sets, err := DiscoverSets(root, "Ref")
	if err != nil {
		t.Fatal(err)
	}
	if !sets.ReferenceMissing {
		t.Fatal("expected missing reference flag")
	}
	if !reflect.DeepEqual(sets.Names, []string{"A", "B"}) {
		t.Fatalf("unexpected order %v", sets.Names)
	}

	if _, err := DiscoverSets(filepath.Join(root, "absent"), "Ref"); err == nil {
		t.Fatal("expected error for missing input directory")
	}
}

func TestFilesMapsDerivedNames(t *testing.T) {
	root := t.TempDir()
	makeSet(t, root, "A", "Scan_2.png", "Scan_1.png", "Scan_1_OAC.png", "Scan_1_SC.png")
	got, err := Files(root, "A", "SC")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(root, "A", "Scan_1_SC.png"), filepath.Join(root, "A", "Scan_2_SC.png")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPlanComparisons(t *testing.T) {
	got := PlanComparisons([]string{"Ref", "B", "C"}, "Ref")
	var tags []string
	for _, c := range got {
		tags = append(tags, c.Tag)
	}
	want := []string{"Intra_Ref", "Inter_B", "Inter_C", "Intra_B", "Cross_B_vs_C", "Intra_C"}
	if !reflect.DeepEqual(tags, want) {
		t.Fatalf("got %v, want %v", tags, want)
	}
	if got[4].Class != Cross || got[1].Class != Inter || got[0].Class != Intra {
		t.Fatalf("unexpected classes %+v", got)
	}
}

func TestPairIndicesIntra(t *testing.T) {
	got := PairIndices(Intra, 4, 4, 2)
	want := []IndexPair{{0, 1}, {0, 2}, {1, 2}, {1, 3}, {2, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPairIndicesInter(t *testing.T) {
	got := PairIndices(Inter, 3, 2, 1)
	want := []IndexPair{{0, 1}, {1, 0}, {2, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPairIndicesCountsAtDefaultDepth(t *testing.T) {
	// 100 scans per set, depth 5
	intra := len(PairIndices(Intra, 100, 100, DefaultNeighborDepth))
	if intra != 95*5+4+3+2+1 {
		t.Fatalf("unexpected intra count %d", intra)
	}
	inter := len(PairIndices(Inter, 100, 100, DefaultNeighborDepth))
	if inter != 100*10-2*(5+4+3+2+1) {
		t.Fatalf("unexpected inter count %d", inter)
	}
}
