package fsutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to touch %s: %v", path, err)
	}
}

func TestListScansSkipsDerivedMaps(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"Scan_002.png", "Scan_001.png", "Scan_001_OAC.png", "Scan_001_SC.png",
		"Scan_001_RSC.png", "notes.txt", "Other_001.png", "Scan_003.tif",
	} {
		touch(t, filepath.Join(dir, name))
	}

	got, err := ListScans(dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{filepath.Join(dir, "Scan_001.png"), filepath.Join(dir, "Scan_002.png")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestListScansMissingDirIsEmpty(t *testing.T) {
	got, err := ListScans(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no scans, got %v", got)
	}
}

func TestMapPath(t *testing.T) {
	cases := []struct{ scan, mapType, want string }{
		{"d/Scan_1.png", "Struct", "d/Scan_1.png"},
		{"d/Scan_1.png", "OAC", "d/Scan_1_OAC.png"},
		{"d/Scan_1.png", "RSC", "d/Scan_1_RSC.png"},
	}
	for _, tc := range cases {
		if got := MapPath(tc.scan, tc.mapType); got != tc.want {
			t.Fatalf("MapPath(%s,%s) = %s, want %s", tc.scan, tc.mapType, got, tc.want)
		}
	}
}

func TestDerivedDetectionUsesBaseName(t *testing.T) {
	// a set folder whose name contains "_SC" must not hide its scans
	if IsDerivedMap(filepath.Join("Meso_SC_Set", "Scan_1.png")) {
		t.Fatal("directory names must not mark scans as derived")
	}
	if !IsDerivedMap("Scan_1_SC.png") {
		t.Fatal("expected _SC suffix to be derived")
	}
}

func TestSubDirsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"b", "a", "c"} {
		if err := os.Mkdir(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	touch(t, filepath.Join(dir, "file.png"))

	got, err := SubDirs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected dirs %v", got)
	}
}
