package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"octbench/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup installs the process logger: traditional lines (or JSON) on stdout,
// teed into a dated file under cfg.Logging.LogDir when file output is on.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	out := io.Writer(os.Stdout)
	if cfg.Logging.FileOutput {
		file, err := openDatedLog(cfg.Logging.LogDir, time.Now())
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, file)
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewTraditionalHandler(out, level)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Debug("octbench logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

// openDatedLog appends to octbench-<date>.log and points octbench-current.log at it.
func openDatedLog(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("octbench-%s.log", now.Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	current := filepath.Join(dir, "octbench-current.log")
	os.Remove(current)
	_ = os.Symlink(name, current)
	return file, nil
}

// TraditionalHandler writes "[LEVEL] message [k=v ...]" lines behind the
// standard log timestamp. Metric values print as N/A when NaN, matching the
// CSV and console reports.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []string
	prefix string
}

// NewTraditionalHandler writes to w with the standard log timestamp prefix.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, a)
		return true
	})

	msg := r.Message
	if len(fields) > 0 {
		msg += " [" + strings.Join(fields, " ") + "]"
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]string(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = appendAttr(next.attrs, h.prefix, a)
	}
	return &next
}

// WithGroup qualifies later keys as group.key.
func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return fields
	}
	if v.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner += a.Key + "."
		}
		for _, ga := range v.Group() {
			fields = appendAttr(fields, inner, ga)
		}
		return fields
	}
	return append(fields, prefix+a.Key+"="+formatValue(v))
}

func formatValue(v slog.Value) string {
	if v.Kind() != slog.KindFloat64 {
		return fmt.Sprintf("%v", v.Any())
	}
	f := v.Float64()
	switch {
	case math.IsNaN(f):
		return "N/A"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogJobStart logs a pipeline job leaving the queue.
func LogJobStart(logger *slog.Logger, jobType, jobID, inputPath, outputPath string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"input", inputPath,
		"output", outputPath,
		"options", options,
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, duration time.Duration, resultInfo map[string]any) {
	logger.Info("job completed successfully",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"result", resultInfo,
	)
}

// LogJobError logs job failures.
func LogJobError(logger *slog.Logger, jobType, jobID string, duration time.Duration, err error, context map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogComparison reports one scored comparison of a run.
func LogComparison(logger *slog.Logger, runID, mapType, tag string, pairs, skipped int) {
	level := slog.LevelInfo
	if skipped > 0 {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "comparison scored",
		"run", runID,
		"map", mapType,
		"comparison", tag,
		"pairs", pairs,
		"skipped", skipped,
	)
}

// LogRunComplete summarises a finished evaluation run.
func LogRunComplete(logger *slog.Logger, runID, category, output string, duration time.Duration, pairs, skipped int) {
	logger.Info("evaluation finished",
		"run", runID,
		"category", category,
		"pairs", pairs,
		"skipped", skipped,
		"output", output,
		"duration", duration.Round(time.Millisecond).String(),
	)
}

// LogToolStatus logs external tool detection.
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if !available {
		logger.Debug("tool not available", "tool", tool, "error", err)
		return
	}
	logger.Debug("tool detected", "tool", tool, "version", version, "path", path)
}
