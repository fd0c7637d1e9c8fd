package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ProbeResult is one credential connectivity check.
type ProbeResult struct {
	Label     string `json:"label"`
	KeyHint   string `json:"key_hint"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// FormatProbes renders credential checks in the requested format.
func FormatProbes(format Format, provider string, probes []ProbeResult) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(struct {
			Provider string        `json:"provider"`
			Probes   []ProbeResult `json:"probes"`
		}{provider, probes}, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatMarkdown:
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Provider %s\n\n", escapeMarkdownCell(provider)))
		sb.WriteString("| Credential | Key | Status | Latency | Detail |\n")
		sb.WriteString("|------------|-----|--------|---------|--------|\n")
		for _, p := range probes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %dms | %s |\n",
				escapeMarkdownCell(p.Label), p.KeyHint, probeStatus(p), p.LatencyMS, escapeMarkdownCell(truncate(p.Detail, 0))))
		}
		return sb.String(), nil
	case FormatText:
		lines := []string{"Provider " + provider, ""}
		for _, p := range probes {
			lines = append(lines, fmt.Sprintf("%-12s %s %s (%dms)", p.Label+":", p.KeyHint, probeStatus(p), p.LatencyMS))
		}
		return ascii.DrawBox(strings.Join(lines, "\n"), 0), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle("Provider " + provider)
	t.AppendHeader(table.Row{"Credential", "Key", "Status", "Latency", "Detail"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: cellWidth}})
	healthy := 0
	for _, p := range probes {
		if p.OK {
			healthy++
		}
		t.AppendRow(table.Row{p.Label, p.KeyHint, probeStatus(p), fmt.Sprintf("%dms", p.LatencyMS), truncate(p.Detail, cellWidth*2)})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", healthy, len(probes)), "", ""})
	return t.Render(), nil
}

func probeStatus(p ProbeResult) string {
	if p.OK {
		return "ok"
	}
	if p.Code != "" {
		return "failed (" + p.Code + ")"
	}
	return "failed"
}
