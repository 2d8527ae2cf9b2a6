package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"friendsbar/internal/acquire"
	"friendsbar/internal/identity"
	"friendsbar/internal/logging"
)

// probeCmd runs one acquisition cycle without touching the client's UI
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one acquisition cycle and print what each strategy found",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	timer := logging.StartTimer(logging.CategoryAcquire, "probe cycle")
	resolved := identity.NewResolver(st.host).Resolve(ctx)
	out, err := st.orch.Run(ctx, acquire.Input{
		Identity: resolved.ID,
		Token:    resolved.Token,
		APIKey:   st.prefs.WebAPIKey(ctx),
	})
	timer.Stop()

	w := cmd.OutOrStdout()
	who := "unresolved"
	if resolved.ID.Valid() {
		who = fmt.Sprintf("%s via %s", resolved.ID, resolved.Source)
	}
	fmt.Fprintln(w, field("identity", who)+field("session token", yesNo(resolved.Token != "")))
	fmt.Fprint(w, renderAttempts(out.Attempts))
	if out.ProbeDebug != "" {
		fmt.Fprintln(w, field("probes", out.ProbeDebug))
	}
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d online via %s", len(out.Records), out.Source)))
	fmt.Fprint(w, renderRecords(out.Records))
	return nil
}
