// Package theme holds the terminal styles used by CLI output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sync/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for report titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// PanelStyle wraps a summary block.
var PanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// LabelStyle is used for field names.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// HintStyle is used for secondary text.
var HintStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// StatusStyle returns a color-coded style for a message status.
func StatusStyle(s model.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch s {
	case model.StatusNew:
		return base.Foreground(ColorBlue)
	case model.StatusHandled:
		return base.Foreground(ColorGreen)
	case model.StatusSkippedAuto:
		return base.Foreground(ColorGray)
	case model.StatusDuplicate:
		return base.Foreground(ColorMagenta)
	case model.StatusError:
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// IntentStyle returns a color-coded style for an intent.
func IntentStyle(in model.Intent) lipgloss.Style {
	base := lipgloss.NewStyle()

	switch in {
	case model.IntentBookService, model.IntentReschedule:
		return base.Foreground(ColorOrange)
	case model.IntentPriceQuestion:
		return base.Foreground(ColorYellow)
	case model.IntentUnsubscribe, model.IntentWrongContact:
		return base.Foreground(ColorRed)
	case model.IntentAck:
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorBlue)
	}
}

// OutcomeStyle colors a run outcome word.
func OutcomeStyle(s model.RunSummary) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch {
	case s.Aborted:
		return base.Foreground(ColorRed)
	case s.Throttled:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGreen)
	}
}
