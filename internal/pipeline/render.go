package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/doppelcheck/internal/model"
)

// Renderer writes reports to files and prints run summaries
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a renderer
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the report as indented JSON
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes the report as Markdown
func (r *Renderer) RenderMarkdown(report *model.Report, path string) error {
	var b strings.Builder
	r.WriteMarkdown(&b, report)
	return writeFile(path, []byte(b.String()))
}

// RenderHTML writes the annotated page
func (r *Renderer) RenderHTML(annotated string, path string) error {
	if annotated == "" {
		return fmt.Errorf("no annotated page to write")
	}
	return writeFile(path, []byte(annotated))
}

// WriteMarkdown renders the report to w
func (r *Renderer) WriteMarkdown(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "# Doppelcheck: %s\n\n", report.Subject)
	fmt.Fprintf(w, "- **Page:** %s\n", report.PageURL)
	fmt.Fprintf(w, "- **Checked:** %s\n", report.CheckedAt.Format("2006-01-02 15:04 UTC"))
	if report.NameInstance != "" {
		fmt.Fprintf(w, "- **Instance:** %s\n", report.NameInstance)
	}
	if len(report.DataSources) > 0 {
		fmt.Fprintf(w, "- **Data sources:** %s\n", strings.Join(report.DataSources, ", "))
	}
	if report.FetchMeta.ReaderMode {
		fmt.Fprintf(w, "- **Mode:** article view\n")
	}
	fmt.Fprintln(w)

	if len(report.Keypoints) == 0 {
		fmt.Fprintf(w, "_No keypoints were extracted._\n\n")
	}

	for _, kr := range report.Keypoints {
		kp := kr.Keypoint
		fmt.Fprintf(w, "## Keypoint %d\n\n", kp.ID)
		fmt.Fprintf(w, "> %s\n\n", strings.TrimSpace(kp.Text))

		s := kr.Summary
		if s.Rated > 0 {
			fmt.Fprintf(w, "**Verdict:** %s %s (support %.2f over %d rated source(s))\n\n", s.Verdict.Symbol(), s.Verdict.Label(), s.Support, s.Rated)
		} else {
			fmt.Fprintf(w, "**Verdict:** not rated (stage: %s)\n\n", kp.Stage)
		}

		if len(kr.Sources) > 0 {
			fmt.Fprintf(w, "| # | Rating | Source | Authority | Notes |\n")
			fmt.Fprintf(w, "|---|--------|--------|-----------|-------|\n")
			for _, src := range kr.Sources {
				fmt.Fprintf(w, "| %d | %s | %s | %s | %s |\n",
					src.ID, sourceRating(src), sourceLink(src), src.Authority, sourceNotes(src))
			}
			fmt.Fprintln(w)

			for _, src := range kr.Sources {
				if src.Rating == nil || strings.TrimSpace(src.Rating.Explanation) == "" {
					continue
				}
				fmt.Fprintf(w, "**Source %d:** %s\n\n", src.ID, strings.TrimSpace(src.Rating.Explanation))
			}
		}

		for _, sig := range s.Signals {
			fmt.Fprintf(w, "- `%s` (%s): %s\n", sig.Type, sig.Severity, sig.Description)
		}
		if len(s.Signals) > 0 {
			fmt.Fprintln(w)
		}
	}

	if len(report.Notifications) > 0 {
		fmt.Fprintf(w, "## Notifications\n\n")
		for _, n := range report.Notifications {
			fmt.Fprintf(w, "- **%s:** %s\n", n.Level, n.Message)
		}
		fmt.Fprintln(w)
	}

	if r.includeFooter {
		fmt.Fprintf(w, "---\n\n")
		fmt.Fprintf(w, "_Ratings describe how a source aligns with a keypoint. They are not a judgement of truth._\n")
	}
}

// RenderSummary prints a short run summary
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	rated, sources := 0, 0
	for _, kr := range report.Keypoints {
		rated += kr.Summary.Rated
		sources += len(kr.Sources)
	}
	fmt.Fprintf(w, "%s: %d keypoint(s), %d source(s), %d rated\n", report.Subject, len(report.Keypoints), sources, rated)
	for _, kr := range report.Keypoints {
		verdict := "not rated"
		if kr.Summary.Rated > 0 {
			verdict = kr.Summary.Verdict.Symbol() + " " + kr.Summary.Verdict.Label()
		}
		fmt.Fprintf(w, "  [%d] %s: %s\n", kr.Keypoint.ID, truncate(kr.Keypoint.Text, 70), verdict)
	}
}

func sourceRating(src model.Source) string {
	switch {
	case src.Stage == model.SourceUnretrievable:
		return "unretrievable"
	case src.Rating == nil || src.Stage != model.SourceRated:
		return src.Stage.String()
	case src.Rating.Band == "":
		return "unreadable"
	default:
		return fmt.Sprintf("%s %s", src.Rating.Band.Symbol(), src.Rating.Band.Label())
	}
}

func sourceLink(src model.Source) string {
	title := src.Title
	if title == "" {
		title = src.URI
	}
	title = strings.ReplaceAll(title, "|", "\\|")
	if src.URI == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, src.URI)
}

func sourceNotes(src model.Source) string {
	var notes []string
	if src.DataSource != "" {
		notes = append(notes, src.DataSource)
	}
	if src.SameHost {
		notes = append(notes, "same site")
	}
	return strings.Join(notes, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
