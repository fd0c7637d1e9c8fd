// Package output renders rewrite results and job snapshots for the CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	// FormatText prints only the cleaned text, paragraphs separated by a
	// blank line.
	FormatText Format = "text"
)

// Formatter renders pipeline output.
type Formatter interface {
	FormatAggregate(agg *rewrite.Aggregate) (string, error)
	FormatJob(job jobs.Job) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatText), "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	case FormatText:
		return &TextFormatter{}
	default:
		return &TableFormatter{}
	}
}

// CleanedText joins the cleaned paragraphs of agg in order.
func CleanedText(agg *rewrite.Aggregate) string {
	if agg == nil {
		return ""
	}
	parts := make([]string, 0, len(agg.Results))
	for _, r := range agg.Results {
		parts = append(parts, r.Cleaned)
	}
	return strings.Join(parts, "\n\n")
}

func summary(agg *rewrite.Aggregate) string {
	s := fmt.Sprintf("%d rewritten", len(agg.Results))
	if len(agg.Failed) > 0 {
		s += fmt.Sprintf(", %d failed", len(agg.Failed))
	}
	if agg.Skipped > 0 {
		s += fmt.Sprintf(", %d blank skipped", agg.Skipped)
	}
	return s + fmt.Sprintf(" in %.2fs", agg.TotalProcessingTime)
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

// TextFormatter renders only the cleaned document.
type TextFormatter struct{}

func (f *TextFormatter) FormatAggregate(agg *rewrite.Aggregate) (string, error) {
	return CleanedText(agg), nil
}

func (f *TextFormatter) FormatJob(job jobs.Job) (string, error) {
	if job.Status == jobs.StatusCompleted {
		return CleanedText(job.Result), nil
	}
	line := fmt.Sprintf("%s: %s", job.ID, job.Message())
	if job.Error != "" {
		line += " (" + job.Error + ")"
	}
	return line, nil
}
