package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/docrewrite/docrewrite/internal/jobs"
	"github.com/docrewrite/docrewrite/internal/rewrite"
)

const cellWidth = 60

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func (f *TableFormatter) FormatAggregate(agg *rewrite.Aggregate) (string, error) {
	if agg == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Original", "Cleaned", "Time"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: cellWidth},
		{Number: 3, WidthMax: cellWidth},
	})

	for _, r := range agg.Results {
		cleaned := r.Cleaned
		if r.CleanupFallback {
			cleaned += " (cleanup skipped)"
		}
		t.AppendRow(table.Row{r.Index, truncate(r.Original, cellWidth*3), truncate(cleaned, cellWidth*3), fmt.Sprintf("%.2fs", r.ProcessingTime)})
	}
	for _, failed := range agg.Failed {
		t.AppendRow(table.Row{failed.Index, "FAILED " + failed.Code, truncate(failed.Message, cellWidth*3), ""})
	}
	t.SortBy([]table.SortBy{{Number: 1, Mode: table.AscNumeric}})
	t.AppendFooter(table.Row{"", "", summary(agg), ""})
	return t.Render(), nil
}

func (f *TableFormatter) FormatJob(job jobs.Job) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Job", job.ID},
		{"Status", string(job.Status)},
		{"Message", job.Message()},
		{"Segments", job.Segments},
		{"Created", job.CreatedAt.UTC().Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.UTC().Format(time.RFC3339)},
	})
	if job.Error != "" {
		t.AppendRow(table.Row{"Error", truncate(job.Error, cellWidth*2)})
	}
	rendered := t.Render()

	if job.Result != nil {
		results, err := f.FormatAggregate(job.Result)
		if err != nil {
			return "", err
		}
		rendered += "\n" + results
	}
	return rendered, nil
}
