package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"octbench/internal/imaging"
)

// ErrToolUnavailable marks a metric whose external scorer cannot be run.
var ErrToolUnavailable = errors.New("external tool unavailable")

// LPIPSScorer shells out to a scorer that prints one distance for two images.
type LPIPSScorer struct {
	Executable string
	Args       []string
	TempDir    string
}

// Available reports whether the scorer executable resolves on PATH.
func (s *LPIPSScorer) Available() bool {
	if s == nil || s.Executable == "" {
		return false
	}
	_, err := exec.LookPath(s.Executable)
	return err == nil
}

// Score runs the scorer on two image files.
func (s *LPIPSScorer) Score(ctx context.Context, path1, path2 string) (float64, error) {
	if !s.Available() {
		return 0, fmt.Errorf("lpips scorer %q: %w", s.Executable, ErrToolUnavailable)
	}
	args := append(append([]string(nil), s.Args...), path1, path2)
	cmd := exec.CommandContext(ctx, s.Executable, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("lpips scorer exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return 0, fmt.Errorf("lpips scorer: %w", err)
	}
	return parseScore(string(out))
}

// ScorePair scores the pair, materialising in-memory images that have no
// backing file (for example a resampled target).
func (s *LPIPSScorer) ScorePair(ctx context.Context, p Pair) (float64, error) {
	ref, cleanRef, err := s.ensureFile(p.RefPath, p.Ref)
	if err != nil {
		return 0, err
	}
	defer cleanRef()
	tgt, cleanTgt, err := s.ensureFile(p.TargetPath, p.Target)
	if err != nil {
		return 0, err
	}
	defer cleanTgt()
	return s.Score(ctx, ref, tgt)
}

func (s *LPIPSScorer) ensureFile(path string, m *mat.Dense) (string, func(), error) {
	if path != "" {
		return path, func() {}, nil
	}
	dir, err := os.MkdirTemp(s.TempDir, "octbench-lpips-")
	if err != nil {
		return "", nil, err
	}
	tmp := filepath.Join(dir, "image.png")
	if err := imaging.SavePNG(tmp, m); err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}
	return tmp, func() { os.RemoveAll(dir) }, nil
}

// parseScore reads the last whitespace-separated token of the scorer output.
func parseScore(out string) (float64, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, errors.New("lpips scorer printed nothing")
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("parse lpips score: %w", err)
	}
	return v, nil
}
