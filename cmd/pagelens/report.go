package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/pagelens/pkg/diagnostics"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
)

// printSummary renders the run outcome for the terminal.
func printSummary(w io.Writer, url string, result *diagnostics.Result) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("pagelens • %s", url)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Level:"), result.Level)

	if result.Skipped {
		fmt.Fprintln(w, warnStyle.Render("Diagnostics skipped at this level."))
		return
	}

	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Duration:"), result.ExecutionTime.Round(0))

	if s := result.Structure; s != nil {
		fmt.Fprintln(w, sectionStyle.Render("\nStructure"))
		fmt.Fprintf(w, "  Title:     %s\n", s.Title)
		fmt.Fprintf(w, "  Headings:  %d   Links: %d   Inputs: %d   Images: %d\n",
			s.Headings, s.Links, s.Inputs, s.Images)
		fmt.Fprintf(w, "  Frames:    %d active, %d detached\n", s.FrameCount, s.DetachedCount)
		if len(s.Landmarks) > 0 {
			fmt.Fprintf(w, "  Landmarks: %v\n", s.Landmarks)
		}
		if s.OpenDialogs > 0 || s.ModalMarkers > 0 {
			fmt.Fprintf(w, "  Modals:    %d open, %d markers\n", s.OpenDialogs, s.ModalMarkers)
		}
		if s.ImagesMissingAlt > 0 || s.InputsMissingLabel > 0 {
			fmt.Fprintf(w, "  %s\n", warnStyle.Render(fmt.Sprintf(
				"Accessibility: %d images missing alt, %d unlabeled inputs",
				s.ImagesMissingAlt, s.InputsMissingLabel)))
		}
	}

	if p := result.Performance; p != nil {
		fmt.Fprintln(w, sectionStyle.Render("\nPerformance"))
		fmt.Fprintf(w, "  Heap:    %s / %s\n", formatBytes(p.HeapUsed), formatBytes(p.HeapTotal))
		if p.RSS > 0 {
			fmt.Fprintf(w, "  RSS:     %s\n", formatBytes(p.RSS))
		}
		fmt.Fprintf(w, "  Handles: %d\n", p.ActiveHandles)
	}

	if len(result.Timings) > 0 {
		fmt.Fprintln(w, sectionStyle.Render("\nSteps"))
		names := make([]string, 0, len(result.Timings))
		for name := range result.Timings {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-22s %s\n", name, result.Timings[name].Duration.Round(0))
		}
	}

	for _, warning := range result.Warnings {
		fmt.Fprintln(w, warnStyle.Render("warning: "+warning))
	}
	for _, stepErr := range result.Errors {
		fmt.Fprintln(w, errorStyle.Render("error: "+stepErr.Error()))
	}
	if len(result.Errors) == 0 {
		fmt.Fprintln(w, okStyle.Render("\nAll diagnostic steps completed."))
	}
}

// reportDocument is the YAML shape written by -output. Step errors are
// flattened to strings so the document round-trips cleanly.
type reportDocument struct {
	URL           string                 `yaml:"url"`
	Level         string                 `yaml:"level"`
	Skipped       bool                   `yaml:"skipped,omitempty"`
	ExecutionTime string                 `yaml:"executionTime,omitempty"`
	Structure     interface{}            `yaml:"structure,omitempty"`
	Performance   interface{}            `yaml:"performance,omitempty"`
	FrameStats    map[string]int         `yaml:"frameStats,omitempty"`
	Timings       map[string]string      `yaml:"timings,omitempty"`
	Extra         map[string]interface{} `yaml:"extra,omitempty"`
	Warnings      []string               `yaml:"warnings,omitempty"`
	Errors        []string               `yaml:"errors,omitempty"`
}

// writeReport marshals the result to a YAML file.
func writeReport(path, url string, result *diagnostics.Result) error {
	doc := reportDocument{
		URL:     url,
		Level:   string(result.Level),
		Skipped: result.Skipped,
		Extra:   result.Extra,
	}
	if !result.Skipped {
		doc.ExecutionTime = result.ExecutionTime.String()
		doc.FrameStats = map[string]int{
			"active":  result.FrameStats.ActiveCount,
			"tracked": result.FrameStats.TotalTracked,
		}
		if result.Structure != nil {
			doc.Structure = result.Structure
		}
		if result.Performance != nil {
			doc.Performance = result.Performance
		}
		if len(result.Timings) > 0 {
			doc.Timings = make(map[string]string, len(result.Timings))
			for name, timing := range result.Timings {
				doc.Timings[name] = timing.Duration.String()
			}
		}
		doc.Warnings = result.Warnings
		for _, stepErr := range result.Errors {
			doc.Errors = append(doc.Errors, stepErr.Error())
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// formatBytes renders a byte count in the largest sensible unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
