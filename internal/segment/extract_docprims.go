//go:build docprims

package segment

import (
	"encoding/json"
	"fmt"

	"github.com/3leaps/docprims/bindings/go/docprims"
)

type docprimsResult struct {
	Document struct {
		Text    string `json:"text"`
		Quality struct {
			Status string `json:"status"`
			Reason string `json:"reason,omitempty"`
		} `json:"quality"`
	} `json:"document"`
}

// extractDocument runs docprims over an in-memory document. docprims picks
// the format from the URI extension.
func extractDocument(_ string, ext string, data []byte) (string, error) {
	opts := &docprims.Options{
		Limits: &docprims.Limits{
			MaxInputBytes:  50 * 1024 * 1024,
			MaxOutputBytes: 10 * 1024 * 1024,
			MaxBlocks:      5000,
		},
	}

	raw, err := docprims.ExtractBytes("mem://upload"+ext, data, opts)
	if err != nil {
		return "", fmt.Errorf("docprims extraction failed: %w", err)
	}

	var result docprimsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parsing docprims output: %w", err)
	}
	return result.Document.Text, nil
}

// DocprimsVersion returns the version of the docprims library.
func DocprimsVersion() string {
	return docprims.Version()
}
