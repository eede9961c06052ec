package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoy-ai/convoy/internal/config"
	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/reconcile"
	"github.com/convoy-ai/convoy/internal/refresh"
	"github.com/convoy-ai/convoy/internal/scheduler"
	"github.com/convoy-ai/convoy/internal/server"
	"github.com/convoy-ai/convoy/internal/session"
	"github.com/convoy-ai/convoy/internal/steering"
	"github.com/convoy-ai/convoy/internal/storage"
	"github.com/convoy-ai/convoy/internal/task"
	"github.com/convoy-ai/convoy/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the convoy HTTP server",
	Long: `Start the convoy session runtime as an HTTP server.

The server exposes session and message APIs, live steering, ordering
validation, a task registry, and an SSE stream of task events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHostname != "" {
		cfg.Server.Hostname = serveHostname
	}
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(cfg.LogLevel)
		logCfg.Pretty = prettyLog
		logging.Init(logCfg)
	}

	store := storage.New(cfg.DataDir)
	alloc := ordering.NewAllocator(store)
	reconciler := reconcile.New(store, alloc)
	sessions := session.NewService(store, alloc, reconciler)
	steer := steering.NewManager(cfg.Steering)

	bus := task.NewBus(cfg.Tasks.MaxListeners)
	defer bus.Close()
	registry := task.NewRegistry(bus, cfg.Tasks.RecentlyCompleted)

	// A refresh flush tells connected clients to re-pull the session; the
	// coordinator has already coalesced and rate-limited upstream. Focus
	// follows the refresh endpoint.
	focus := refresh.NewFocusTracker()
	coordinator := refresh.New(
		func(ctx context.Context, sessionID string, mode types.RefreshMode) error {
			bus.EmitProgress("refresh:"+sessionID, "", "", string(mode))
			return nil
		},
		focus.Get,
		cfg.Refresh,
	)
	defer coordinator.Dispose()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.TasksFile != "" {
		entries, err := scheduler.LoadFile(cfg.Scheduler.TasksFile)
		if err != nil {
			return fmt.Errorf("failed to load scheduled tasks: %w", err)
		}
		sched = scheduler.New(registry, func(entry scheduler.Entry) (string, error) {
			msg, err := sessions.AppendMessage(context.Background(), entry.SessionID, session.Draft{
				Role: types.RoleUser,
				Parts: []types.Part{
					&types.TextPart{ID: "prompt", Type: "text", Text: entry.Prompt},
				},
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("queued prompt as message %s", msg.ID), nil
		})
		if err := sched.Start(entries); err != nil {
			return err
		}
		defer sched.Stop()
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Hostname = cfg.Server.Hostname
	serverCfg.Port = cfg.Server.Port
	serverCfg.MaxSSEStreams = cfg.Server.MaxSSEStreams

	srv := server.New(serverCfg, sessions, alloc, steer, bus, registry, coordinator, focus)

	go func() {
		logging.Info().
			Str("hostname", cfg.Server.Hostname).
			Int("port", cfg.Server.Port).
			Str("dataDir", cfg.DataDir).
			Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
