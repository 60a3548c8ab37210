package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/openagents/openagents/internal/clock"
	"github.com/openagents/openagents/internal/config"
	"github.com/openagents/openagents/internal/errors"
	"github.com/openagents/openagents/internal/git"
	"github.com/openagents/openagents/internal/health"
	"github.com/openagents/openagents/internal/lock"
	"github.com/openagents/openagents/internal/orchestrator"
	"github.com/openagents/openagents/internal/progress"
	"github.com/openagents/openagents/internal/taskstore"
	"github.com/openagents/openagents/internal/trajectory"
	"github.com/openagents/openagents/internal/worker"
)

// AddSessionCommand adds the session command group to the root command.
func AddSessionCommand(root *cobra.Command, flags *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run and inspect orchestrator sessions",
	}
	cmd.AddCommand(newSessionRunCmd(flags))
	root.AddCommand(cmd)
}

func newSessionRunCmd(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one orchestrator session over the backlog",
		Long: `Run one orchestrator session: pick ready tasks in priority order, drive
the configured worker per subtask, verify with the project's health
commands, heal failures, and commit green results. The session holds the
project lock for its lifetime; SIGINT/SIGTERM cancel it cleanly.

Examples:
  openagents session run
  openagents session run --root /path/to/project --verbose`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), flags)
		},
	}
}

func runSession(ctx context.Context, flags *GlobalFlags) error {
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
	sessionID := ulid.Make().String()
	logger = logger.With().Str("project_id", cfg.ProjectID).Logger()

	acquirer := lock.NewAcquirer(clk, cfg.Session.LockStaleAfter, logger)
	held, err := acquirer.Acquire(config.SessionLockPath(cfg.RootDir), sessionID)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := held.Release(); releaseErr != nil {
			logger.Warn().Err(releaseErr).Msg("releasing session lock failed")
		}
	}()

	traj, err := trajectory.Open(
		config.TrajectoryPath(cfg.RootDir, sessionID),
		sessionID, "openagents", clk, logger,
	)
	if err != nil {
		return err
	}

	tasks := taskstore.NewFileStore(
		config.TasksPath(cfg.RootDir),
		config.TasksArchivePath(cfg.RootDir),
		clk, logger,
	)
	healthRunner := health.NewRunner(cfg.RootDir, cfg.Health.Timeout, map[health.Kind][]string{
		health.KindTypecheck: cfg.TypecheckCommands,
		health.KindTest:      cfg.TestCommands,
		health.KindE2E:       cfg.E2ECommands,
	}, health.ShellRunner{}, logger)

	session := orchestrator.NewSession(sessionID, orchestrator.Deps{
		Config:     *cfg,
		Tasks:      tasks,
		Trajectory: traj,
		Worker:     worker.NewDriver(cfg.Worker.Command, cfg.Worker.Timeout, cfg.Worker.GracePeriod, logger),
		Health:     healthRunner,
		Repo:       git.NewRepo(cfg.RootDir, git.ExecCommander{}, logger),
		Memo:       progress.NewMemo(config.ProgressPath(cfg.RootDir), clk),
		Clock:      clk,
		Logger:     logger,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Run(runCtx); err != nil {
		return errors.Wrap(err, "session run failed")
	}
	return nil
}
