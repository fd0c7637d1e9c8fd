//go:build !docprims

package segment

import "fmt"

// extractDocument needs docprims; builds without the tag reject documents.
func extractDocument(filename, ext string, _ []byte) (string, error) {
	return "", fmt.Errorf("%w: %s (%s documents need a build with -tags docprims)",
		ErrUnsupportedContentType, displayName(filename), ext)
}

// DocprimsVersion returns empty string when docprims is not enabled.
func DocprimsVersion() string {
	return ""
}
