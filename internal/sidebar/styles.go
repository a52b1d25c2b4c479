package sidebar

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/doppelcheck/internal/model"
)

// Band colors, strongest support to strongest contradiction
var (
	ColorStrongSupport       = lipgloss.Color("#2E9E44")
	ColorSomeSupport         = lipgloss.Color("#9CCB3B")
	ColorNoMention           = lipgloss.Color("#A0A0A0")
	ColorSomeContradiction   = lipgloss.Color("#F39C12")
	ColorStrongContradiction = lipgloss.Color("#E74C3C")

	ColorTitle   = lipgloss.Color("#3B82C4")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the sidebar's text styles
type Styles struct {
	Title    lipgloss.Style
	Keypoint lipgloss.Style
	Muted    lipgloss.Style
	Info     lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Panel    lipgloss.Style
	bands    map[model.Band]lipgloss.Style
}

// NewStyles builds styles rendered for out. Without color every style is
// plain text.
func NewStyles(out io.Writer, color bool) Styles {
	r := lipgloss.NewRenderer(out)
	plain := r.NewStyle()
	if !color {
		return Styles{
			Title: plain, Keypoint: plain, Muted: plain, Info: plain,
			Warning: plain, Error: plain, Panel: plain,
			bands: map[model.Band]lipgloss.Style{},
		}
	}

	return Styles{
		Title:    r.NewStyle().Bold(true).Foreground(ColorTitle),
		Keypoint: r.NewStyle().Bold(true),
		Muted:    r.NewStyle().Foreground(ColorMuted),
		Info:     r.NewStyle().Foreground(ColorTitle),
		Warning:  r.NewStyle().Foreground(ColorWarning),
		Error:    r.NewStyle().Foreground(ColorError).Bold(true),
		Panel: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1),
		bands: map[model.Band]lipgloss.Style{
			model.BandStrongSupport:       r.NewStyle().Foreground(ColorStrongSupport).Bold(true),
			model.BandSomeSupport:         r.NewStyle().Foreground(ColorSomeSupport),
			model.BandNoMention:           r.NewStyle().Foreground(ColorNoMention),
			model.BandSomeContradiction:   r.NewStyle().Foreground(ColorSomeContradiction),
			model.BandStrongContradiction: r.NewStyle().Foreground(ColorStrongContradiction).Bold(true),
		},
	}
}

// Band renders a band's symbol and label in its color
func (s Styles) Band(b model.Band) string {
	text := b.Symbol() + " " + b.Label()
	if style, ok := s.bands[b]; ok {
		return style.Render(text)
	}
	return text
}

// Notice renders a notification line by level
func (s Styles) Notice(n model.Notification) string {
	switch n.Level {
	case model.NotifyError:
		return s.Error.Render("✗ " + n.Message)
	case model.NotifyWarn:
		return s.Warning.Render("⚠ " + n.Message)
	default:
		return s.Info.Render("• " + n.Message)
	}
}
