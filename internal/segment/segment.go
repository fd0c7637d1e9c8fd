// Package segment turns text and uploaded documents into ordered paragraphs.
package segment

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedContentType is returned for uploads that cannot be turned
// into text.
var ErrUnsupportedContentType = errors.New("unsupported content type")

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// textTypes are handled directly; document types go through extractDocument.
var textTypes = map[string]bool{
	"text/plain":      true,
	"text/markdown":   true,
	"text/x-markdown": true,
}

var textExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

var documentTypes = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"text/html": ".html",
}

var documentExtensions = map[string]bool{
	".docx": true,
	".pptx": true,
	".xlsx": true,
	".html": true,
	".htm":  true,
}

// Split breaks text on blank lines and returns the non-empty paragraphs,
// trimmed, in order.
func Split(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLine.Split(text, -1)

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Extract returns the paragraphs of an uploaded file. The declared content
// type wins when recognised; otherwise the filename extension decides.
func Extract(filename, contentType string, data []byte) ([]string, error) {
	mediaType := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(parsed)
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case textTypes[mediaType], (mediaType == "" || mediaType == "application/octet-stream") && textExtensions[ext]:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrUnsupportedContentType, displayName(filename))
		}
		return Split(string(data)), nil
	case documentTypes[mediaType] != "":
		return extractParagraphs(filename, documentTypes[mediaType], data)
	case (mediaType == "" || mediaType == "application/octet-stream") && documentExtensions[ext]:
		return extractParagraphs(filename, ext, data)
	}

	declared := mediaType
	if declared == "" {
		declared = ext
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedContentType, displayName(filename), declared)
}

func extractParagraphs(filename, ext string, data []byte) ([]string, error) {
	text, err := extractDocument(filename, ext, data)
	if err != nil {
		return nil, err
	}
	return Split(text), nil
}

func displayName(filename string) string {
	if strings.TrimSpace(filename) == "" {
		return "upload"
	}
	return filepath.Base(filename)
}
