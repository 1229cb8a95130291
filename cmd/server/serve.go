package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/api/handlers"
	"github.com/eCy-coding/eCyOs/internal/config"
	"github.com/eCy-coding/eCyOs/internal/db"
	"github.com/eCy-coding/eCyOs/internal/hub"
	"github.com/eCy-coding/eCyOs/internal/ingress"
	"github.com/eCy-coding/eCyOs/internal/repository"
	"github.com/eCy-coding/eCyOs/internal/session"
	"github.com/eCy-coding/eCyOs/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if printConfig {
				data, err := config.Render(cfg)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&printConfig, "print-config", false, "print the effective config and exit")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := pslog.Ctx(ctx)
	gin.SetMode(gin.ReleaseMode)

	repo, database, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	recordDir := ""
	if cfg.Recording.Enabled {
		recordDir = cfg.Recording.Dir
		if err := os.MkdirAll(recordDir, 0o755); err != nil {
			return fmt.Errorf("create recording dir: %w", err)
		}
	}

	registry := hub.NewRegistry(logger.With("component", "hub"))
	defer registry.Close()
	registry.SetOnMessage(logInboundFrame(logger.With("component", "hub")))

	tracker := ingress.NewAgentTracker(cfg.Ingress.AgentTTL())
	sessions := session.NewManager(session.Config{
		Shell:       cfg.Terminal.Shell,
		ShellArgs:   cfg.Terminal.Args,
		Env:         cfg.Terminal.Env,
		Dir:         cfg.Terminal.Dir,
		MaxSessions: cfg.Terminal.MaxSessions,
		KillGrace:   cfg.Terminal.KillGrace(),
		LoopGrace:   cfg.Terminal.LoopGrace(),
		RecordDir:   recordDir,
		TailSize:    cfg.Terminal.TailBytes,
	}, repo, logger.With("component", "terminal"))
	if err := sessions.RecoverJournal(ctx); err != nil {
		logger.Warn("journal recovery failed", "err", err)
	}

	source := telemetry.NewSource(registry, telemetry.Config{
		Interval: cfg.Telemetry.Interval(),
		Agents:   tracker,
		Logger:   logger.With("component", "telemetry"),
	})

	router := handlers.NewRouter(handlers.RouterConfig{
		Hub:      hub.NewHandler(registry, cfg.Hub.QueueSize),
		Sessions: sessions,
		Ingress:  ingress.NewService(registry, tracker),
		Logger:   logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		source.Run(runCtx)
	}()

	logger.Info("neurallink listening",
		"addr", cfg.HTTP.Addr(),
		"shell", cfg.Terminal.Shell,
		"max_sessions", cfg.Terminal.MaxSessions,
		"journal", cfg.Journal.Enabled,
		"recording", cfg.Recording.Enabled,
	)
	err = listenAndServe(runCtx, cfg.HTTP.Addr(), router, cfg.HTTP.ShutdownTimeout(), sessions)
	cancel()
	wg.Wait()
	return err
}

// listenAndServe runs the HTTP server until ctx is cancelled, then stops
// accepting requests and tears down every terminal session.
func listenAndServe(ctx context.Context, addr string, handler http.Handler, timeout time.Duration, sessions *session.Manager) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Addr:     addr,
		Handler:  handler,
		ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("terminal sessions did not stop in time", "err", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "err", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// logInboundFrame records event-channel client frames. The bridge does not
// act on them.
func logInboundFrame(logger pslog.Logger) func(*hub.Client, json.RawMessage) {
	return func(client *hub.Client, payload json.RawMessage) {
		logger.Debug("event client frame ignored", "conn", client.ID(), "bytes", len(payload))
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (*repository.SessionRepository, *sql.DB, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create journal dir: %w", err)
	}
	database, err := db.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	pslog.Ctx(ctx).Info("session journal opened", "path", cfg.Path)
	return repository.NewSessionRepository(database), database, nil
}

func newConfigCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write the default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0], overwrite); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("config written", "path", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}
