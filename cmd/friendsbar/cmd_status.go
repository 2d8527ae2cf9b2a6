package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"friendsbar/internal/overlay"
)

// statusCmd shows the live state of a running instance
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live state of a running instance",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

// refreshCmd asks a running instance for an immediate cycle
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Invalidate caches and refresh a running instance now",
	Args:  cobra.NoArgs,
	RunE:  requestRefresh,
}

var statusClient = &http.Client{Timeout: 10 * time.Second}

func statusURL(path string) string {
	addr := cfg.Status.Addr
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + path
}

func callStatus(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, statusURL(path), nil)
	if err != nil {
		return err
	}
	resp, err := statusClient.Do(req)
	if err != nil {
		return fmt.Errorf("is friendsbar running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var st overlay.State
	if err := callStatus(ctx, http.MethodGet, "/state", &st); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderState(st))
	return nil
}

func requestRefresh(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := callStatus(ctx, http.MethodPost, "/refresh", nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "refresh requested")
	return nil
}
