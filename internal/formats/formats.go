// Package formats ingests source documents into the canonical
// line-delimited text the segmenter works on. Plain text passes through
// a normalization pass; TEI/XML sources have their text body extracted
// first.
package formats

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/dorjee-dev/outliner/core/errors"
)

// Format identifies a supported input format.
type Format string

// Supported input formats.
const (
	FormatPlain Format = "plain"
	FormatTEI   Format = "tei"
)

// Detect guesses the input format from filename and content. XML is
// recognized by extension or by a leading declaration/root tag.
func Detect(filename string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xml", ".tei":
		return FormatTEI
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<TEI")) {
		return FormatTEI
	}
	return FormatPlain
}

// NormalizeText cleans raw text for ingestion: strips a UTF-8 BOM,
// converts CRLF line endings, and removes ASCII control characters
// other than newline.
func NormalizeText(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExtractTEI pulls the text body out of a TEI document: one line per
// paragraph or line element, in document order. Falls back to the whole
// body text when no paragraph markup is present.
func ExtractTEI(data []byte) (string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "parsing TEI")
	}

	lines, err := queryTexts(doc, "//*[local-name()='body']//*[local-name()='p' or local-name()='l']")
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		lines, err = queryTexts(doc, "//*[local-name()='body']")
		if err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", errors.NewValidation("tei", "no text body found")
	}
	return strings.Join(lines, "\n"), nil
}

// queryTexts runs an XPath query and collects the non-empty inner texts
// of the matches.
func queryTexts(doc *xmlquery.Node, expr string) ([]string, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath query failed: %w", err)
	}

	var out []string
	for _, n := range nodes {
		text := strings.TrimSpace(n.InnerText())
		if text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// Ingest converts raw input into canonical line-delimited text,
// dispatching on the detected format.
func Ingest(filename string, data []byte) (string, error) {
	var text string
	switch Detect(filename, data) {
	case FormatTEI:
		extracted, err := ExtractTEI(data)
		if err != nil {
			return "", err
		}
		text = NormalizeText(extracted)
	default:
		text = NormalizeText(string(data))
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.NewValidation("content", "must not be empty")
	}
	return text, nil
}
