package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wangdong/clawguard/pkg/bus"
	"github.com/wangdong/clawguard/pkg/channels"
	"github.com/wangdong/clawguard/pkg/config"
	"github.com/wangdong/clawguard/pkg/host"
	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/notify"
	"github.com/wangdong/clawguard/pkg/permission"
	"github.com/wangdong/clawguard/pkg/remote"
	"github.com/wangdong/clawguard/pkg/state"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logger.ErrorCF("main", "Fatal error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	st, err := state.NewManager(cfg.StatePath)
	if err != nil {
		return err
	}
	if !st.Loaded() {
		// First run: seed persisted toggles from config.
		if err := st.SetRemoteEnabled(cfg.RemoteEnabled); err != nil {
			return err
		}
	}

	msgBus := bus.NewMessageBus()

	ch, err := channels.New(cfg, msgBus, st)
	if err != nil {
		return err
	}

	store := permission.NewStore(cfg.PermissionTimeout)
	orch := permission.NewOrchestrator(ch, store)
	ch.OnResponse(orch.Resolve)

	hostClient := host.NewCLIClient(cfg.SessionsDir, cfg.PromptCommand)
	dispatcher := remote.NewDispatcher(ch, hostClient, st)
	emitter := notify.NewEmitter(ch, cfg.Notify)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ch.Start(ctx); err != nil {
		return err
	}
	go dispatcher.Run(ctx, msgBus)

	srv := newHookServer(cfg.HookListen, orch, emitter)
	srvErr := make(chan error, 1)
	go func() {
		logger.InfoCF("main", "Hook server listening", map[string]any{"addr": cfg.HookListen})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	logger.InfoCF("main", "clawguard started", map[string]any{
		"channel": ch.Name(),
		"remote":  dispatcher.Enabled(),
	})

	select {
	case <-ctx.Done():
		logger.InfoC("main", "Shutdown signal received")
	case err := <-srvErr:
		logger.ErrorCF("main", "Hook server failed", map[string]any{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Clear before stopping the hook server so blocked permission calls get
	// their shutdown answer instead of a dropped connection.
	store.Clear()
	if err := ch.Stop(shutdownCtx); err != nil {
		logger.WarnCF("main", "Channel stop failed", map[string]any{"error": err.Error()})
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "Hook server shutdown failed", map[string]any{"error": err.Error()})
	}

	logger.InfoC("main", "clawguard stopped")
	return nil
}
