package main

import (
	"context"
	"fmt"

	"friendsbar/internal/acquire"
	"friendsbar/internal/config"
	"friendsbar/internal/gate"
	"friendsbar/internal/graph"
	"friendsbar/internal/host"
	"friendsbar/internal/logging"
	"friendsbar/internal/settings"
)

// stack is everything a command needs to talk to the host.
type stack struct {
	host  *host.Client
	store *settings.SQLiteStore
	prefs *settings.Settings
	orch  *acquire.Orchestrator
	gate  *gate.Gate
}

// openSettings opens the sqlite store and seeds the web API key from the
// environment when none is stored.
func openSettings(ctx context.Context, c *config.Config) (*settings.SQLiteStore, *settings.Settings, error) {
	store, err := settings.OpenSQLite(c.Settings.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open settings: %w", err)
	}
	prefs := settings.New(store)
	if key := config.SeedWebAPIKey(); key != "" && prefs.WebAPIKey(ctx) == "" {
		if err := prefs.SetWebAPIKey(ctx, key); err != nil {
			logging.SettingsWarn("seed web api key: %v", err)
		}
	}
	return store, prefs, nil
}

// newStrategies builds the cascade in priority order.
func newStrategies(c *config.Config, hc *host.Client) ([]acquire.Strategy, error) {
	fetcher, err := acquire.NewFetcher(acquire.FetcherOptions{
		Timeout:   c.GetNetworkTimeout(),
		UserAgent: c.Acquire.UserAgent,
		Host:      hc,
		Cookies:   hc,
	})
	if err != nil {
		return nil, err
	}
	budget := graph.Budget{
		MaxDepth:   c.Acquire.ScanMaxDepth,
		MaxBreadth: c.Acquire.ScanMaxBreadth,
		MaxNodes:   c.Acquire.ScanMaxNodes,
	}
	return []acquire.Strategy{
		acquire.NewWebAPIKeyStrategy(fetcher, ""),
		acquire.NewSessionTokenStrategy(fetcher, ""),
		acquire.NewCommunityStrategy(fetcher, "", c.Acquire.CommunityPageLimit),
		acquire.NewObjectGraphStrategy(hc, budget, c.GetContainerCacheTTL()),
		acquire.NewCrossContextStrategy(hc, c.Host.ProbeContexts, c.GetProbeTimeout()),
	}, nil
}

func buildStack(ctx context.Context, c *config.Config) (*stack, error) {
	store, prefs, err := openSettings(ctx, c)
	if err != nil {
		return nil, err
	}

	hc := host.New(host.Options{
		DebuggerURL:    c.Host.DebuggerURL,
		SurfaceTitles:  c.Host.SurfaceTitles,
		SharedContext:  c.Host.SharedContext,
		ConnectTimeout: c.GetConnectTimeout(),
	})
	if err := hc.Start(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	strategies, err := newStrategies(c, hc)
	if err != nil {
		_ = hc.Close()
		_ = store.Close()
		return nil, err
	}

	return &stack{
		host:  hc,
		store: store,
		prefs: prefs,
		orch:  acquire.NewOrchestrator(strategies...),
		gate: gate.New(gate.Options{
			Locations:    hc,
			Window:       hc,
			Exec:         hc,
			Contexts:     c.Host.ProbeContexts,
			ProbeTimeout: c.GetStoreProbeTimeout(),
			CacheTTL:     c.GetStoreCacheTTL(),
		}),
	}, nil
}

func (s *stack) Close() {
	if err := s.host.Close(); err != nil {
		logging.HostWarn("close host: %v", err)
	}
	if err := s.store.Close(); err != nil {
		logging.SettingsWarn("close settings: %v", err)
	}
}
