package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"octbench/internal/config"
	"octbench/internal/evaluate"
	"octbench/internal/logging"
	"octbench/internal/physmap"
	"octbench/internal/pipeline"
	"octbench/internal/report"
	"octbench/internal/storage"
	"octbench/internal/tasks"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return NewRoot(pipe, cfg, log, store).Command()
}

// Command builds the command tree bound to r.
func (r *Root) Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "octbench",
		Short: "octbench benchmarks image similarity metrics on simulated OCT scans",
		Long: `octbench drives a virtual OCT scanner over tissue phantoms, derives
attenuation and speckle contrast maps, and measures how well full-reference
similarity metrics separate structural classes.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newScanCmd(r))
	rootCmd.AddCommand(newMapsCmd(r))
	rootCmd.AddCommand(newEvaluateCmd(r))
	rootCmd.AddCommand(newReportCmd(r))
	rootCmd.AddCommand(newCompareCmd(r))
	rootCmd.AddCommand(newWatchCmd(r))
	rootCmd.AddCommand(newRunsCmd(r))
	rootCmd.AddCommand(newJobsCmd(r))
	rootCmd.AddCommand(newToolsCmd(r))
	rootCmd.AddCommand(newConfigCmd(r))
	rootCmd.AddCommand(newVersionCmd(r))

	return rootCmd
}

func newScanCmd(root *Root) *cobra.Command {
	var (
		maps       bool
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "scan <phantom_directory> [output_directory]",
		Short: "Run the virtual scanner over every phantom in a directory",
		Long: `Write the scanner configuration and scan every Scatterers_*.txt phantom,
producing one Scan_<name>.png per phantom.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := args[0]
			if len(args) > 1 {
				output = args[1]
			}
			job := pipeline.Job{
				ID:        newID("scan"),
				Type:      pipeline.JobScan,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"maps":   maps,
					"config": configFile,
					"source": "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %v phantoms into %s\n", res.Meta["phantoms"], output)
			return nil
		},
	}

	cmd.Flags().BoolVar(&maps, "maps", false, "generate OAC, SC and RSC maps for every scan")
	cmd.Flags().StringVar(&configFile, "config-file", "", "scanner configuration path (default: <output>/"+config.Default().Scanner.ConfigFile+")")

	return cmd
}

func newMapsCmd(root *Root) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "maps <input_directory>",
		Short: "Generate physics maps for structural scans",
		Long: `Derive the optical attenuation (OAC), speckle contrast (SC) and
attenuation speckle contrast (RSC) maps of every Scan_*.png in the directory
or its immediate sub-directories.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:        newID("maps"),
				Type:      pipeline.JobMaps,
				InputPath: args[0],
				Options:   map[string]any{"force": force, "source": "cli"},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated maps for %v scans (%v already present)\n", res.Meta["generated"], res.Meta["skipped"])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "regenerate maps that already exist")

	return cmd
}

func newEvaluateCmd(root *Root) *cobra.Command {
	var (
		all             bool
		experimentsFile string
		input           string
		reference       string
		output          string
		depth           int
		skipPlots       bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate [category...]",
		Short: "Score every planned comparison of one or more experiments",
		Long: `Evaluate experiments: score the planned scan pairs of every map type,
write raw and summary CSVs, correlations and plots, and record the run.
Without arguments every configured experiment is evaluated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if experimentsFile != "" {
				if err := config.LoadExperiments(root.cfg, experimentsFile); err != nil {
					return err
				}
			}

			opts := map[string]any{
				"reference":     reference,
				"neighborDepth": depth,
				"skipPlots":     skipPlots,
				"source":        "cli",
			}
			var jobs []pipeline.Job
			if input != "" {
				category := ""
				if len(args) > 0 {
					category = args[0]
				}
				jobs = append(jobs, evaluateJob(category, input, output, opts))
			} else {
				categories := args
				if all || len(categories) == 0 {
					categories = nil
					for _, e := range root.cfg.Experiments {
						categories = append(categories, e.Category)
					}
				}
				if len(categories) == 0 {
					return errors.New("no experiments configured")
				}
				for _, c := range categories {
					if _, ok := root.cfg.Experiment(c); !ok {
						return fmt.Errorf("unknown experiment %q", c)
					}
					jobs = append(jobs, evaluateJob(c, "", output, opts))
				}
			}
			// Each experiment has its own results directory and reference set.
			if len(jobs) > 1 && (output != "" || reference != "") {
				return fmt.Errorf("--output and --reference apply to a single experiment, %d selected", len(jobs))
			}

			var errs []error
			for _, job := range jobs {
				res, err := root.enqueueAndWait(cmd.Context(), job)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", job.Options["category"], err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v: %v pairs, %v significant comparisons, results in %v (run %v)\n",
					res.Meta["category"], res.Meta["pairs"], res.Meta["significant"], res.Meta["output"], res.Meta["runId"])
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "evaluate every configured experiment")
	cmd.Flags().StringVar(&experimentsFile, "experiments", "", "YAML file replacing the configured experiments")
	cmd.Flags().StringVar(&input, "input", "", "dataset directory (evaluates a single ad-hoc experiment)")
	cmd.Flags().StringVar(&reference, "reference", "", "reference set name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "results directory (default: Results_<input>)")
	cmd.Flags().IntVar(&depth, "depth", 0, "neighbour depth for pair planning (default from config)")
	cmd.Flags().BoolVar(&skipPlots, "skip-plots", false, "do not draw the empirical panels")

	return cmd
}

func evaluateJob(category, input, output string, opts map[string]any) pipeline.Job {
	jobOpts := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		jobOpts[k] = v
	}
	jobOpts["category"] = category
	return pipeline.Job{
		ID:        newID("eval"),
		Type:      pipeline.JobEvaluate,
		InputPath: input,
		Output:    output,
		Options:   jobOpts,
	}
}

func newReportCmd(root *Root) *cobra.Command {
	var (
		output   string
		baseline string
		target   string
	)

	cmd := &cobra.Command{
		Use:   "report [csv_directory]",
		Short: "Draw the diagnostic publication figures",
		Long: `Compare the baseline's intra-class distribution against its cross
comparison with the target for every map type, draw one Diagnostic_<metric>.png
per metric and write the significance table.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := ""
			if len(args) > 0 {
				input = args[0]
			}
			job := pipeline.Job{
				ID:        newID("report"),
				Type:      pipeline.JobReport,
				InputPath: input,
				Output:    output,
				Options: map[string]any{
					"baseline": baseline,
					"target":   target,
					"source":   "cli",
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			if plots, ok := res.Meta["plots"].([]string); ok {
				for _, p := range plots {
					fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", p)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "figure directory (default from config)")
	cmd.Flags().StringVar(&baseline, "baseline", "", "baseline set (default from config)")
	cmd.Flags().StringVar(&target, "target", "", "target set (default from config)")

	return cmd
}

func newCompareCmd(root *Root) *cobra.Command {
	var (
		regenerate bool
		noResize   bool
		csvPath    string
		label      string
	)

	cmd := &cobra.Command{
		Use:   "compare <reference_scan> <target_scan>",
		Short: "Score a single pair of scans on every map type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := root.newEvaluator()
			if err != nil {
				return err
			}
			reports, err := ev.Compare(cmd.Context(), args[0], args[1], evaluate.CompareOptions{
				Maps:       physmap.FromConfig(root.cfg.Maps),
				Regenerate: regenerate,
				Resize:     root.cfg.Evaluation.ResizeMismatched && !noResize,
			})
			if err != nil {
				return err
			}
			for _, rep := range reports {
				fmt.Fprintln(cmd.OutOrStdout(), evaluate.FormatPair(rep))
			}
			if csvPath == "" {
				return nil
			}

			if label == "" {
				label = scanName(args[0]) + "_vs_" + scanName(args[1])
			}
			rows := make([]report.PairRow, 0, len(reports))
			for _, rep := range reports {
				rows = append(rows, report.PairRow{Experiment: label, Map: rep.Map, Values: rep.Values})
			}
			if err := report.AppendPairReport(csvPath, ev.Metrics(), rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", csvPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "rebuild derived maps even when present")
	cmd.Flags().BoolVar(&noResize, "no-resize", false, "reject pairs with different shapes instead of resampling")
	cmd.Flags().StringVar(&csvPath, "csv", "", "append the scores to this CSV (e.g. "+report.PairReportFile+")")
	cmd.Flags().StringVar(&label, "label", "", "experiment name for --csv rows (default <ref>_vs_<target>)")

	return cmd
}

func scanName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newWatchCmd(root *Root) *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch [directory...]",
		Short: "Regenerate physics maps whenever scans change",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = []string{root.cfg.Paths.DatasetRoot}
			}
			root.log.Info("watching for new scans", "dirs", dirs, "settle", settle)
			return root.watchFn(cmd.Context(), dirs, physmap.FromConfig(root.cfg.Maps), settle, root.log)
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "quiet period before a changed scan is processed")

	return cmd
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded evaluation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(out, "%-36s  %-8s  %-10s  %6d pairs  %s  %s\n",
					run.ID, run.Category, run.Status, run.Pairs, run.StartedAt.Format(time.RFC3339), run.OutputDir)
				if run.Error != "" {
					fmt.Fprintf(out, "    error: %s\n", run.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the summary statistics of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := root.store.RunSummary(args[0])
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("run %s has no summary", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s  %-28s  %-8s  %10s  %10s  %10s  %5s\n", "Map", "Comparison", "Metric", "Mean", "P2.5", "P97.5", "N")
			for _, s := range rows {
				mark := ""
				if s.DiagnosticPower {
					mark = " *"
				}
				fmt.Fprintf(out, "%-6s  %-28s  %-8s  %10s  %10s  %10s  %5d%s\n",
					s.Map, s.Comparison, s.Metric, fmtFloat(s.Mean), fmtFloat(s.P2_5), fmtFloat(s.P97_5), s.N, mark)
			}
			return nil
		},
	}
	cmd.AddCommand(showCmd)

	return cmd
}

func fmtFloat(v float64) string {
	if math.IsNaN(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", v)
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, j := range jobs {
				fmt.Fprintf(out, "%-32s  %-8s  %-9s  %s\n", j.ID, j.JobType, j.Status, j.InputPath)
				if j.Error != "" {
					fmt.Fprintf(out, "    error: %s\n", j.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")

	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show availability of the external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			tm := root.newToolManager()
			status := tm.GetToolStatus()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "octbench Tool Status")
			for _, name := range []string{tasks.ToolScanner, tasks.ToolLPIPS, tasks.ToolMagick} {
				st, ok := status[name]
				if !ok {
					continue
				}
				logging.LogToolStatus(root.log, name, st.Available, st.Version, st.Path, st.Error)
				state := "NOT AVAILABLE"
				if st.Available {
					state = "available"
				}
				fmt.Fprintf(out, "  %-12s %s", name, state)
				if verbose {
					if st.Available {
						fmt.Fprintf(out, " (%s) [%s]", st.Version, st.Path)
					} else if st.Error != nil {
						fmt.Fprintf(out, " - %v", st.Error)
					}
				}
				fmt.Fprintln(out)
			}
			if !tm.LPIPSEnabled() {
				fmt.Fprintln(out, "\nLPIPS scores will be recorded as N/A.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show versions, paths and errors")

	return cmd
}
