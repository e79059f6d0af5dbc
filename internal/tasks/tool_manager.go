package tasks

import (
	"fmt"
	"os/exec"
	"strings"

	"octbench/internal/config"
)

// ToolManager reports on the external executables the benchmark drives.
type ToolManager struct {
	cfg *config.Config
}

// NewToolManager creates a new tool manager with configuration
func NewToolManager(cfg *config.Config) *ToolManager {
	return &ToolManager{cfg: cfg}
}

// ToolStatus represents the availability of a tool
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// Tool names understood by CheckTool.
const (
	ToolScanner = "scanner"
	ToolLPIPS   = "lpips"
	ToolMagick  = "imagemagick"
)

// binary maps a logical tool name to the configured executable.
func (tm *ToolManager) binary(toolName string) string {
	switch toolName {
	case ToolScanner:
		return tm.cfg.Scanner.Executable
	case ToolLPIPS:
		return tm.cfg.Tools.LPIPS.Executable
	case ToolMagick:
		return "magick"
	default:
		return toolName
	}
}

// CheckTool verifies if a tool is available and working
func (tm *ToolManager) CheckTool(toolName string) ToolStatus {
	binaryName := tm.binary(toolName)
	if binaryName == "" {
		return ToolStatus{Error: fmt.Errorf("%s: no executable configured", toolName)}
	}

	path, err := exec.LookPath(binaryName)
	if err != nil {
		if toolName == ToolMagick {
			// ImageMagick 6 installs convert instead of magick
			if p, err6 := exec.LookPath("convert"); err6 == nil {
				path, binaryName, err = p, "convert", nil
			}
		}
		if err != nil {
			return ToolStatus{Available: false, Error: err}
		}
	}

	var versionCmd []string
	switch toolName {
	case ToolMagick:
		versionCmd = []string{binaryName, "-version"}
	case ToolLPIPS:
		versionCmd = []string{binaryName, "--version"}
	default:
		// The scanner has no version flag; running it without arguments
		// would start a simulation.
		return ToolStatus{Available: true, Path: path}
	}

	cmd := exec.Command(versionCmd[0], versionCmd[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
		}
		return ToolStatus{Available: true, Version: "unknown", Path: path}
	}
	return ToolStatus{Available: true, Version: extractVersion(string(output)), Path: path}
}

// GetToolStatus returns the status of every external tool.
func (tm *ToolManager) GetToolStatus() map[string]ToolStatus {
	status := make(map[string]ToolStatus)
	for _, tool := range []string{ToolScanner, ToolLPIPS, ToolMagick} {
		status[tool] = tm.CheckTool(tool)
	}
	return status
}

// LPIPSEnabled reports whether LPIPS scoring is configured and runnable.
func (tm *ToolManager) LPIPSEnabled() bool {
	return tm.cfg.Tools.LPIPS.Enabled && tm.CheckTool(ToolLPIPS).Available
}

// extractVersion extracts version information from tool output
func extractVersion(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "version") || strings.Contains(line, "Version") {
			return line
		}
	}
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
