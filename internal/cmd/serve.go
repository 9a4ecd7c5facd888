package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/selfvisor/internal/bridge"
	"github.com/Iron-Ham/selfvisor/internal/bulk"
	"github.com/Iron-Ham/selfvisor/internal/config"
	"github.com/Iron-Ham/selfvisor/internal/credential"
	"github.com/Iron-Ham/selfvisor/internal/errors"
	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/logging"
	"github.com/Iron-Ham/selfvisor/internal/login"
	"github.com/Iron-Ham/selfvisor/internal/orchestrator"
	"github.com/Iron-Ham/selfvisor/internal/supervisor"
	"github.com/Iron-Ham/selfvisor/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor and the front-end bridge",
	Long: `Run the supervisor until interrupted.

The WebSocket bridge accepts front-end commands (registration, login codes,
stop/start/restart) and pushes handshake notifications back. SIGINT or
SIGTERM cancels any pending restart and terminates every running worker.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("start-all", false, "start a worker for every registered user on boot")
}

// app holds the wired components of a running supervisor.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	bus     *event.Bus
	store   *credential.FileStore
	sup     *supervisor.Supervisor
	flow    *login.Flow
	bulk    *bulk.Orchestrator
	service *orchestrator.Service
}

// newApp wires the components over the given spawner.
func newApp(cfg *config.Config, dir string, spawner worker.Spawner, logger *logging.Logger) *app {
	bus := event.NewBus(logger)
	store := credential.NewFileStore(dir,
		credential.WithFileName(cfg.Worker.CredentialFile),
		credential.WithLogger(logger),
	)
	sup := supervisor.New(store, spawner,
		supervisor.WithBus(bus),
		supervisor.WithLogger(logger),
	)
	flow := login.New(store, sup,
		login.WithBus(bus),
		login.WithLogger(logger),
		login.WithCodeLength(cfg.Login.CodeLength),
	)
	orch := bulk.New(store, sup,
		bulk.WithBus(bus),
		bulk.WithLogger(logger),
		bulk.WithMaxParallel(cfg.Supervisor.MaxParallel),
		bulk.WithRestartDelay(cfg.Supervisor.RestartDelay()),
	)
	service := orchestrator.New(store, sup, flow, orch,
		orchestrator.WithBus(bus),
		orchestrator.WithLogger(logger),
		orchestrator.WithSink(orchestrator.SinkFunc(func(n orchestrator.Notification) {
			logger.WithUser(n.UserID).Info("notification", "kind", n.Kind)
		})),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		store:   store,
		sup:     sup,
		flow:    flow,
		bulk:    orch,
		service: service,
	}
}

// shutdown cancels pending bulk work and terminates every worker, waiting
// at most the configured shutdown timeout for them to exit.
func (a *app) shutdown() error {
	if a.bulk.CancelPending() {
		a.logger.Info("cancelled pending restart")
	}
	a.bulk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Supervisor.ShutdownTimeout())
	defer cancel()
	err := a.sup.Shutdown(ctx)

	a.service.Close()
	a.flow.Close()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLoggerWithRotation(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	dir, err := usersDir(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create users directory: %w", err)
	}

	spawner := worker.NewExecSpawner(worker.ExecConfig{
		Command:     cfg.Worker.Command,
		Args:        cfg.Worker.Args,
		Env:         cfg.Worker.Env,
		StopTimeout: cfg.Worker.StopTimeout(),
	}, logger)
	a := newApp(cfg, dir, spawner, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startAll, _ := cmd.Flags().GetBool("start-all")
	runErr := a.run(ctx, startAll)

	logger.Info("shutting down")
	if err := a.shutdown(); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// run serves until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context, startAll bool) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Watcher.Enabled {
		w := credential.NewWatcher(a.store.Root(), a.store.FileName(), a.cfg.Watcher.Debounce(), a.bus, a.logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if a.cfg.Bridge.Enabled {
		srv := bridge.New(a.service,
			bridge.WithAddr(a.cfg.Bridge.Addr),
			bridge.WithToken(a.cfg.Bridge.Token),
			bridge.WithLogger(a.logger),
		)
		a.service.AddSink(srv)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if startAll {
		g.Go(func() error {
			out := a.service.StartAll(gctx)
			a.logger.Info("boot start-all finished", "message", out.Message)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	a.logger.Info("selfvisor running",
		"users_dir", a.store.Root(),
		"bridge", a.cfg.Bridge.Enabled,
		"watcher", a.cfg.Watcher.Enabled,
	)
	return g.Wait()
}
