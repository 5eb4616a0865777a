// Package extract turns raw document bytes into plain text. Every extractor is
// a pure function of its input and is safe for concurrent use.
package extract

import (
	"fmt"
	"strings"

	"github.com/spigell/resume-ranker/internal/document"
)

// Result is the outcome of extracting one document.
type Result struct {
	Text   string
	Status document.Status
	Detail string
}

type extractor func(data []byte) (string, error)

var extractors = map[document.Format]extractor{
	document.FormatPDF:  pdfText,
	document.FormatDOCX: docxText,
	document.FormatTXT:  plainText,
}

// Supported reports whether a format has an extractor.
func Supported(format document.Format) bool {
	_, ok := extractors[format]
	return ok
}

// Extract dispatches on format. It never panics and never returns partial
// text together with a failure status.
func Extract(format document.Format, data []byte) (res Result) {
	fn, ok := extractors[format]
	if !ok {
		return Result{Status: document.StatusUnsupported, Detail: fmt.Sprintf("unsupported format %q", format)}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: document.StatusParseFailed, Detail: fmt.Sprintf("%s extractor panicked: %v", format, r)}
		}
	}()

	text, err := fn(data)
	if err != nil {
		return Result{Status: document.StatusParseFailed, Detail: err.Error()}
	}

	text = CleanText(text)
	if strings.TrimSpace(text) == "" {
		return Result{Status: document.StatusEmpty, Detail: "no extractable text"}
	}
	return Result{Text: text, Status: document.StatusOK}
}
