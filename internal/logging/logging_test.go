package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"octbench/internal/config"
)

func TestTraditionalHandlerFormatsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("run", "r-1")

	logger.Info("pair evaluated", "metric", "SSIM", "value", 0.5)
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] pair evaluated [run=r-1 metric=SSIM value=0.5]") {
		t.Fatalf("unexpected log line %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesDatedLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.FileOutput = true
	cfg.Logging.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "debug"

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, err := Setup(cfg)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	LogJobError(logger, "evaluate", "job-1", time.Second, errors.New("boom"), map[string]any{"input": "Dataset"})

	name := filepath.Join(cfg.Logging.LogDir, "octbench-"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), "job failed") {
		t.Fatalf("expected job failure in log file, got %q", string(data))
	}
}

func TestTraditionalHandlerGroupsAndMetricValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug)).WithGroup("pair")

	logger.Info("scored", "ssim", math.NaN(), "psnr", math.Inf(1), slog.Group("map", "type", "OAC"))

	out := buf.String()
	if !strings.Contains(out, "[INFO] scored [pair.ssim=N/A pair.psnr=inf pair.map.type=OAC]") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestLogComparisonWarnsOnSkippedPairs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo))

	LogComparison(logger, "run-1", "SC", "Intra_Meso_Amp", 40, 0)
	LogComparison(logger, "run-1", "SC", "Inter_Macro_Thin", 38, 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "[INFO] comparison scored") || !strings.Contains(lines[1], "[WARN] comparison scored") {
		t.Fatalf("unexpected levels %q", lines)
	}
	if !strings.Contains(lines[1], "comparison=Inter_Macro_Thin pairs=38 skipped=2") {
		t.Fatalf("unexpected fields %q", lines[1])
	}
}
