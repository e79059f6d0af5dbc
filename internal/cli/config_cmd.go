package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"octbench/internal/config"

	"github.com/spf13/cobra"
)

// Version is the reported build version.
var Version = "0.1.0-dev"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show, validate, or initialise octbench configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			root.configShow(cmd.OutOrStdout())
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				root.log.Error("configuration validation", "status", "invalid", "error", err)
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	var (
		force       bool
		experiments string
	)
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path()
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			if experiments != "" {
				if err := config.SaveExperiments(config.Default(), experiments); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", experiments)
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&experiments, "experiments", "", "also write the default experiments as YAML to this path")

	cmd.AddCommand(showCmd, validateCmd, initCmd)
	return cmd
}

func (r *Root) configShow(w io.Writer) {
	fmt.Fprintf(w, "Current configuration:\n")
	fmt.Fprintf(w, "Config file: %s\n", config.Path())
	fmt.Fprintf(w, "\nPaths:\n")
	fmt.Fprintf(w, "  Dataset root: %s\n", r.cfg.Paths.DatasetRoot)
	fmt.Fprintf(w, "  Database: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Fprintf(w, "\nProcessing:\n")
	fmt.Fprintf(w, "  Parallel jobs: %d\n", r.cfg.Processing.ParallelJobs)
	fmt.Fprintf(w, "  Pair workers: %d\n", r.cfg.Processing.PairWorkers)
	fmt.Fprintf(w, "\nEvaluation:\n")
	fmt.Fprintf(w, "  Metrics: %s\n", strings.Join(r.cfg.Evaluation.Metrics, ", "))
	fmt.Fprintf(w, "  Neighbour depth: %d\n", r.cfg.Evaluation.NeighborDepth)
	fmt.Fprintf(w, "  Resize mismatched: %t\n", r.cfg.Evaluation.ResizeMismatched)
	fmt.Fprintf(w, "\nMaps:\n")
	fmt.Fprintf(w, "  Pixel size: %g um\n", r.cfg.Maps.PixelSizeMicrons)
	fmt.Fprintf(w, "  Window: %d\n", r.cfg.Maps.WindowSize)
	fmt.Fprintf(w, "\nScanner:\n")
	fmt.Fprintf(w, "  Executable: %s\n", r.cfg.Scanner.Executable)
	fmt.Fprintf(w, "  Geometry: %dx%d px at %gx%g um\n", r.cfg.Scanner.DepthPixels, r.cfg.Scanner.LateralPixels, r.cfg.Scanner.PixelSizeZ, r.cfg.Scanner.PixelSizeX)
	fmt.Fprintf(w, "\nExperiments:\n")
	for _, e := range r.cfg.Experiments {
		fmt.Fprintf(w, "  - %s: %s (reference %s)\n", e.Category, e.InputDir, e.Reference)
	}
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "octbench v%s\n", Version)
			fmt.Fprintf(out, "Built with Go %s\n", runtime.Version())
			lpips := "disabled"
			if root.newToolManager().LPIPSEnabled() {
				lpips = "enabled"
			}
			fmt.Fprintf(out, "LPIPS: %s\n", lpips)
		},
	}
}
