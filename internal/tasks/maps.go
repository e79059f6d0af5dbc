package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"octbench/internal/fsutil"
	"octbench/internal/physmap"
)

// MapsRequest selects the scans whose physics maps are generated.
type MapsRequest struct {
	InputDir string
	Force    bool // regenerate maps that already exist
	Options  physmap.Options
}

// MapsResult counts the processed scans.
type MapsResult struct {
	Generated int
	Skipped   int
	Dirs      []string
}

// ScanDirs returns the directories holding structural scans: inputDir itself
// when it contains scans, otherwise its immediate sub-directories.
func ScanDirs(inputDir string) ([]string, error) {
	scans, err := fsutil.ListScans(inputDir)
	if err != nil {
		return nil, err
	}
	if len(scans) > 0 {
		return []string{inputDir}, nil
	}
	subs, err := fsutil.SubDirs(inputDir)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(subs))
	for _, s := range subs {
		dirs = append(dirs, filepath.Join(inputDir, s))
	}
	return dirs, nil
}

// GenerateMaps writes the OAC, SC and RSC maps of every structural scan
// under req.InputDir. The first failing scan aborts the run.
func GenerateMaps(ctx context.Context, req MapsRequest, logger *slog.Logger) (MapsResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dirs, err := ScanDirs(req.InputDir)
	if err != nil {
		return MapsResult{}, err
	}

	res := MapsResult{Dirs: dirs}
	for _, dir := range dirs {
		scans, err := fsutil.ListScans(dir)
		if err != nil {
			return res, err
		}
		for _, scan := range scans {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !req.Force && mapsExist(scan) {
				res.Skipped++
				continue
			}
			if _, err := physmap.Generate(scan, req.Options); err != nil {
				return res, fmt.Errorf("maps for %s: %w", scan, err)
			}
			res.Generated++
		}
		logger.Info("maps ready", "dir", dir, "scans", len(scans))
	}
	return res, nil
}

func mapsExist(scan string) bool {
	for _, mt := range []string{"OAC", "SC", "RSC"} {
		if fsutil.FirstExisting(fsutil.MapPath(scan, mt)) == "" {
			return false
		}
	}
	return true
}
