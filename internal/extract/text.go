package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	spaceRun      = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLineRuns = regexp.MustCompile(`\n{3,}`)
)

// plainText decodes UTF-8 (or UTF-16 when a BOM says so). Invalid sequences
// become U+FFFD rather than failing the document.
func plainText(data []byte) (string, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// CleanText normalises extracted text: LF line endings, collapsed horizontal
// whitespace, no trailing spaces and at most one blank line in a row.
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.ReplaceAll(content, "\x00", "")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}

	content = strings.Join(lines, "\n")
	content = blankLineRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
