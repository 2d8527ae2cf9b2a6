package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"friendsbar/internal/cache"
	"friendsbar/internal/config"
	"friendsbar/internal/logging"
	"friendsbar/internal/overlay"
	"friendsbar/internal/status"
)

// runCmd keeps the indicator mounted until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to the client and keep the indicator running",
	Long: `Connects to the client's debugger, mounts the indicator and refreshes it on
the configured cadence. The status surface and the config watcher run alongside.
Stops cleanly on SIGINT or SIGTERM, removing everything it added to the client.`,
	Args: cobra.NoArgs,
	RunE: runIndicator,
}

func runIndicator(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	widget := st.host.Widget()
	rt := overlay.New(overlay.Deps{
		Surface:      widget,
		Listener:     widget,
		Navigator:    st.host,
		Session:      st.host,
		Orchestrator: st.orch,
		Gate:         st.gate,
		Settings:     st.prefs,
		Caches:       []cache.Invalidator{st.host},
	}, overlay.Options{
		RefreshEvery:  cfg.GetRefreshInterval(),
		MountEvery:    cfg.GetMountInterval(),
		GhostDuration: cfg.GetGhostDuration(),
		GeometryTTL:   cfg.GetGeometryCacheTTL(),
	})
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := rt.Stop(stopCtx); err != nil {
			logging.BootWarn("stop runtime: %v", err)
		}
	}()

	watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
		if err := next.Validate(); err != nil {
			logging.BootWarn("ignoring invalid config: %v", err)
			return
		}
		level := next.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.SetLevel(level); err != nil {
			logging.BootWarn("config reload: %v", err)
		}
		rt.Reconfigure(next.GetRefreshInterval(), next.GetMountInterval())
	})
	if err != nil {
		logging.BootWarn("config watcher unavailable: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logging.BootWarn("config watcher: %v", err)
		}
		defer watcher.Stop()
	}

	errc := make(chan error, 1)
	if cfg.Status.Enabled {
		srv := status.New(cfg.Status.Addr, rt, st.prefs)
		go func() { errc <- srv.Start(ctx) }()
	}

	select {
	case <-ctx.Done():
		logging.Boot("shutting down")
		if cfg.Status.Enabled {
			<-errc
		}
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
