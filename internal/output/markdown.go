package output

import (
	"fmt"
	"strings"

	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatAggregate(agg *rewrite.Aggregate) (string, error) {
	if agg == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("| # | Original | Cleaned |\n")
	sb.WriteString("|---|----------|---------|\n")
	for _, r := range agg.Results {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s |\n",
			r.Index, escapeMarkdownCell(truncate(r.Original, 0)), escapeMarkdownCell(truncate(r.Cleaned, 0))))
	}
	for _, failed := range agg.Failed {
		sb.WriteString(fmt.Sprintf("| %d | **failed** (%s) | %s |\n",
			failed.Index, escapeMarkdownCell(failed.Code), escapeMarkdownCell(truncate(failed.Message, 0))))
	}
	sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", summary(agg)))
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatJob(job jobs.Job) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Job %s\n\n", escapeMarkdownCell(job.ID)))
	sb.WriteString(fmt.Sprintf("- **Status**: %s (%s)\n", job.Status, job.Message()))
	sb.WriteString(fmt.Sprintf("- **Segments**: %d\n", job.Segments))
	if job.Error != "" {
		sb.WriteString(fmt.Sprintf("- **Error**: %s\n", job.Error))
	}
	if job.Result != nil {
		results, err := f.FormatAggregate(job.Result)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n" + results)
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
