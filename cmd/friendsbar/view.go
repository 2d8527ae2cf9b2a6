package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"friendsbar/internal/acquire"
	"friendsbar/internal/overlay"
	"friendsbar/internal/presence"
	"friendsbar/internal/render"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	headStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)

	outcomeStyles = map[string]lipgloss.Style{
		acquire.OutcomeHit:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		acquire.OutcomeEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		acquire.OutcomeSkip:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		acquire.OutcomeError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func outcomeCell(o string) string {
	if s, ok := outcomeStyles[o]; ok {
		return s.Render(o)
	}
	return o
}

func pad(s string, w int) string {
	return lipgloss.NewStyle().Width(w).Render(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderAttempts draws one row per strategy attempt.
func renderAttempts(attempts []acquire.Attempt) string {
	var b strings.Builder
	b.WriteString(headStyle.Render(pad("strategy", 22)+pad("outcome", 8)+pad("count", 7)+pad("time", 10)+"note") + "\n")
	for _, a := range attempts {
		b.WriteString(pad(a.Strategy, 22))
		b.WriteString(pad(outcomeCell(a.Outcome), 8))
		b.WriteString(pad(fmt.Sprint(a.Count), 7))
		b.WriteString(pad(a.Duration.Round(time.Millisecond).String(), 10))
		b.WriteString(truncate(a.Note, 60))
		b.WriteString("\n")
	}
	return b.String()
}

// renderRecords lists friends in display order, marking those beyond the
// visible limit.
func renderRecords(records []presence.Record) string {
	if len(records) == 0 {
		return labelStyle.Render("no friends online") + "\n"
	}
	var b strings.Builder
	for i, r := range records {
		line := fmt.Sprintf("%2d. %s", i+1, render.Title(r))
		if i >= render.MaxVisible {
			line = labelStyle.UnsetWidth().Render(line + " (overflow)")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func field(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// renderState draws a live state snapshot.
func renderState(st overlay.State) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("friendsbar") + "\n")
	b.WriteString(field("mounted", fmt.Sprintf("%s (%s)", yesNo(st.Mounted), st.MountMode)))
	b.WriteString(field("online", fmt.Sprintf("%d (%d shown)", st.OnlineCount, st.DisplayedCount)))
	b.WriteString(field("source", st.Source))
	if !st.LastUpdated.IsZero() {
		b.WriteString(field("last updated", st.LastUpdated.Local().Format(time.RFC3339)))
	}
	if st.Identity != "" {
		b.WriteString(field("identity", st.Identity))
	}
	b.WriteString(field("session token", yesNo(st.HasSessionToken)))
	b.WriteString(field("web api key", yesNo(st.HasWebAPIKey)))
	b.WriteString(field("hidden", yesNo(st.HiddenBySettings)))
	if st.Error != "" {
		b.WriteString(field("error", outcomeStyles[acquire.OutcomeError].Render(st.Error)))
	}
	for _, d := range []struct{ label, v string }{
		{"sources", st.SourceDebug},
		{"probes", st.ProbeDebug},
		{"routes", st.RouteDebug},
		{"store", st.StoreDebug},
	} {
		if d.v != "" {
			b.WriteString(field(d.label, truncate(d.v, 100)))
		}
	}
	out := boxStyle.Render(strings.TrimRight(b.String(), "\n"))
	if len(st.Attempts) > 0 {
		out += "\n" + renderAttempts(st.Attempts)
	}
	return out
}
