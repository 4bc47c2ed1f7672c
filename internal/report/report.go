// Package report renders sync results and message listings for the
// terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/theme"
)

const subjectWidth = 48

// Outcome names the result of a run.
func Outcome(s model.RunSummary) string {
	switch {
	case s.Aborted:
		return "aborted"
	case s.Throttled:
		return "throttled"
	}
	return "completed"
}

// Summary renders a run summary panel.
func Summary(w io.Writer, s model.RunSummary) error {
	rows := [][2]string{
		{"mailbox", s.Mailbox},
		{"run", s.RunID},
		{"outcome", theme.OutcomeStyle(s).Render(Outcome(s))},
	}
	if !s.Throttled {
		rows = append(rows,
			[2]string{"since", formatTime(s.Since)},
			[2]string{"processed", fmt.Sprint(s.Processed)},
			[2]string{"skipped", fmt.Sprint(s.Skipped)},
			[2]string{"duplicates", fmt.Sprint(s.Duplicates)},
			[2]string{"classified", fmt.Sprint(s.Classified)},
			[2]string{"duration", (time.Duration(s.DurationMS) * time.Millisecond).String()},
		)
	}
	if s.LastErrorClass != model.ClassNone {
		rows = append(rows, [2]string{"last error", string(s.LastErrorClass)})
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		label := theme.LabelStyle.Width(12).Render(r[0])
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, label, r[1]))
	}

	out := lipgloss.JoinVertical(lipgloss.Left,
		theme.HeaderStyle.Render("inbox sync"),
		theme.PanelStyle.Render(strings.Join(lines, "\n")),
	)
	_, err := fmt.Fprintln(w, out)
	return err
}

// Messages renders one line per message, newest first as given.
func Messages(w io.Writer, msgs []model.InboundMessage) error {
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, theme.HintStyle.Render("no messages"))
		return err
	}
	for _, m := range msgs {
		flag := " "
		if m.Important.Bool() {
			flag = lipgloss.NewStyle().Foreground(theme.ColorRed).Bold(true).Render("!")
		}
		line := strings.Join([]string{
			flag,
			theme.LabelStyle.Render(m.ReceivedAt.Local().Format("Jan 02 15:04")),
			theme.StatusStyle(m.Status).Width(13).Render(string(m.Status)),
			theme.IntentStyle(m.Intent).Width(17).Render(string(m.Intent)),
			truncate(m.FromAddr, 28),
			truncate(m.Subject, subjectWidth),
		}, " ")
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// IntentCounts renders a tally of stored messages per intent.
func IntentCounts(w io.Writer, counts map[model.Intent]int) error {
	var b strings.Builder
	for _, in := range model.Intents {
		n := counts[in]
		if n == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s %d\n", theme.IntentStyle(in).Width(17).Render(string(in)), n)
	}
	if b.Len() == 0 {
		b.WriteString(theme.HintStyle.Render("no messages") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
