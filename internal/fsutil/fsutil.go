package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// derivedSuffixes mark physics maps written next to a structural scan.
var derivedSuffixes = []string{"_OAC", "_SC", "_RSC"}

var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".tif":  {},
	".tiff": {},
}

// IsImageFile checks if a file is a supported image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok
}

// IsDerivedMap reports whether path is an OAC/SC/RSC map rather than a structural scan.
func IsDerivedMap(path string) bool {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, s := range derivedSuffixes {
		if strings.Contains(stem, s) {
			return true
		}
	}
	return false
}

// IsStructuralScan reports whether path names a structural B-scan (Scan_*.png).
func IsStructuralScan(path string) bool {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "Scan_") || strings.ToLower(filepath.Ext(base)) != ".png" {
		return false
	}
	return !IsDerivedMap(base)
}

// ListScans returns the sorted structural scans directly inside dir.
// A missing directory yields an empty list.
func ListScans(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "Scan_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var scans []string
	for _, m := range matches {
		if IsStructuralScan(m) {
			scans = append(scans, m)
		}
	}
	return scans, nil
}

// MapPath returns the derived map path for a structural scan. "Struct" maps to itself.
func MapPath(scan, mapType string) string {
	if mapType == "" || mapType == "Struct" {
		return scan
	}
	ext := filepath.Ext(scan)
	return strings.TrimSuffix(scan, ext) + "_" + mapType + ext
}

// SubDirs lists immediate sub-directories of dir, sorted by name.
func SubDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// EnsureDirs creates every directory in dirs.
func EnsureDirs(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
