package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/domain"
	"github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/stuck"
	"github.com/openagents/openagents/internal/taskstore"
)

// scanFlags holds flags specific to the healer scan command.
type scanFlags struct {
	// TaskHours overrides the task stagnation threshold.
	TaskHours float64
	// SubtaskHours overrides the subtask stagnation threshold.
	SubtaskHours float64
	// MinFailures overrides the consecutive-failure trigger.
	MinFailures int
}

// AddHealerCommand adds the healer command group to the root command.
func AddHealerCommand(root *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "healer",
		Short: "Inspect and trigger the healing subsystem",
	}
	cmd.AddCommand(newHealerScanCmd(flags))
	cmd.AddCommand(newHealerInvokeCmd())
	root.AddCommand(cmd)
}

func newHealerScanCmd(flags *GlobalFlags) *cobra.Command {
	sf := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the backlog for stuck tasks",
		Long: `Scan the persisted backlog for tasks stagnating in in_progress or blocked.
Exits 1 when anything stuck is found, 0 on a clean scan.

Examples:
  openagents healer scan
  openagents healer scan --task-hours 2 -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealerScan(cmd, flags, sf)
		},
	}

	cmd.Flags().Float64Var(&sf.TaskHours, "task-hours", 0, "task stagnation threshold in hours (default from config)")
	cmd.Flags().Float64Var(&sf.SubtaskHours, "subtask-hours", 0, "subtask stagnation threshold in hours (default from config)")
	cmd.Flags().IntVar(&sf.MinFailures, "min-failures", 0, "consecutive failures marking a subtask stuck (default from config)")
	return cmd
}

func runHealerScan(cmd *cobra.Command, flags *GlobalFlags, sf *scanFlags) error {
	logger := Logger()

	rootDir, err := projectRoot(flags)
	if err != nil {
		return err
	}
	cfg, err := config.Load(rootDir)
	if err != nil {
		return err
	}

	clk := clock.RealClock{}
	store := taskstore.NewFileStore(
		config.TasksPath(cfg.RootDir),
		config.TasksArchivePath(cfg.RootDir),
		clk, logger,
	)
	tasks, err := store.List(cmd.Context(), domain.TaskFilter{})
	if err != nil {
		return err
	}

	opts := stuck.Options{
		TaskThreshold:          cfg.Healer.StuckThreshold(),
		SubtaskThreshold:       cfg.Healer.StuckThreshold(),
		MinConsecutiveFailures: cfg.Healer.MinConsecutiveFailures,
	}
	if sf.TaskHours > 0 {
		opts.TaskThreshold = time.Duration(sf.TaskHours * float64(time.Hour))
	}
	if sf.SubtaskHours > 0 {
		opts.SubtaskThreshold = time.Duration(sf.SubtaskHours * float64(time.Hour))
	}
	if sf.MinFailures > 0 {
		opts.MinConsecutiveFailures = sf.MinFailures
	}

	// Subtasks are session-ephemeral; a backlog scan only sees tasks.
	report := stuck.NewDetector(clk, logger).Scan(tasks, nil, opts)

	if err := renderScanReport(cmd, flags.Output, report); err != nil {
		return err
	}
	if report.Stuck() {
		return errors.Wrapf(errors.ErrStuckDetected, "%d finding(s)", len(report.Findings))
	}
	return nil
}

// renderScanReport writes the report in the requested output format.
func renderScanReport(cmd *cobra.Command, format string, report stuck.Report) error {
	if format != OutputText {
		return renderStructured(cmd, format, report)
	}

	out := cmd.OutOrStdout()
	if !report.Stuck() {
		_, err := fmt.Fprintln(out, "no stuck tasks")
		return err
	}
	for _, f := range report.Findings {
		id := f.TaskID
		if f.SubtaskID != "" {
			id = f.TaskID + "/" + f.SubtaskID
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\n", id, f.Reason); err != nil {
			return err
		}
	}
	return nil
}

func newHealerInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a healing scenario by hand",
		Long: `Invoke a healing scenario outside a session. Reserved for ad-hoc repair
of a backlog between sessions; not yet implemented.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return errors.Wrap(errors.ErrNotImplemented, "healer invoke")
		},
	}
}
