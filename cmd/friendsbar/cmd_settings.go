package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"friendsbar/internal/settings"
)

// settingsCmd operates on the persisted settings store directly
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write persisted settings",
	Long: `Reads and writes the settings store shared with the running indicator.
Keys are the storage keys, for example friendsbar-x-offset or friendsbar-tap-action.
A running instance picks changes up on its next mount pass.`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting with its effective value",
	Args:  cobra.NoArgs,
	RunE:  listSettings,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting's effective value",
	Args:  cobra.ExactArgs(1),
	RunE:  getSetting,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one setting",
	Args:  cobra.ExactArgs(2),
	RunE:  setSetting,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset [key...]",
	Short: "Restore defaults for the given keys, or for every key",
	RunE:  resetSettings,
}

func withSettings(cmd *cobra.Command, fn func(ctx context.Context, store settings.Store, prefs *settings.Settings) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	store, prefs, err := openSettings(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store, prefs)
}

// effective renders the typed value of key from snap. The web API key is
// masked.
func effective(snap settings.Snapshot, key string) (string, error) {
	switch key {
	case settings.KeyWebAPIKey:
		if snap.WebAPIKey == "" {
			return "", nil
		}
		return "(set)", nil
	case settings.KeyXOffset:
		return strconv.Itoa(snap.XOffset), nil
	case settings.KeyYOffset:
		return strconv.Itoa(snap.YOffset), nil
	case settings.KeyEnabled:
		return strconv.FormatBool(snap.Enabled), nil
	case settings.KeyHideInStore:
		return strconv.FormatBool(snap.HideInStore), nil
	case settings.KeyHideOnGamePage:
		return strconv.FormatBool(snap.HideOnGamePage), nil
	case settings.KeyTapAction:
		return string(snap.TapAction), nil
	case settings.KeyCountOnly:
		return strconv.FormatBool(snap.CountOnly), nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}

func listSettings(cmd *cobra.Command, args []string) error {
	return withSettings(cmd, func(ctx context.Context, store settings.Store, prefs *settings.Settings) error {
		stored, err := store.List(ctx)
		if err != nil {
			return err
		}
		snap := prefs.Snapshot(ctx)
		w := cmd.OutOrStdout()
		for _, key := range settings.Keys() {
			v, err := effective(snap, key)
			if err != nil {
				return err
			}
			marker := ""
			if _, ok := stored[key]; !ok {
				marker = labelStyle.UnsetWidth().Render(" (default)")
			}
			fmt.Fprintf(w, "%s%s%s\n", labelStyle.Width(32).Render(key), v, marker)
		}
		return nil
	})
}

func getSetting(cmd *cobra.Command, args []string) error {
	return withSettings(cmd, func(ctx context.Context, _ settings.Store, prefs *settings.Settings) error {
		v, err := effective(prefs.Snapshot(ctx), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	})
}

func setSetting(cmd *cobra.Command, args []string) error {
	return withSettings(cmd, func(ctx context.Context, _ settings.Store, prefs *settings.Settings) error {
		if err := prefs.Apply(ctx, args[0], args[1]); err != nil {
			return err
		}
		v, _ := effective(prefs.Snapshot(ctx), args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], v)
		return nil
	})
}

func resetSettings(cmd *cobra.Command, args []string) error {
	return withSettings(cmd, func(ctx context.Context, store settings.Store, _ *settings.Settings) error {
		keys := args
		if len(keys) == 0 {
			keys = settings.Keys()
		}
		for _, key := range keys {
			if _, err := effective(settings.Defaults, key); err != nil {
				return err
			}
			if err := store.Remove(ctx, key); err != nil {
				return fmt.Errorf("reset %s: %w", key, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d setting(s)\n", len(keys))
		return nil
	})
}
