// Package document holds the types shared by discovery, extraction and ranking:
// references to stored documents and the candidate records built from them.
package document

import (
	"path"
	"strings"
	"time"
)

// Format is the lower-cased file extension of a document, without the dot.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

// DefaultExtensions is the allowlist used when none is configured.
var DefaultExtensions = []string{"pdf", "docx", "txt"}

// FormatOf derives the format tag from a file name or bare extension.
func FormatOf(name string) Format {
	ext := strings.TrimSpace(name)
	if i := strings.LastIndex(ext, "."); i >= 0 {
		ext = ext[i+1:]
	}
	return Format(strings.ToLower(ext))
}

// Status is the outcome of extracting one document.
type Status string

const (
	StatusOK          Status = "ok"
	StatusUnsupported Status = "unsupported"
	StatusFetchFailed Status = "fetch_failed"
	StatusParseFailed Status = "parse_failed"
	StatusEmpty       Status = "empty"
)

// Deterministic reports whether re-extracting the same bytes gives the same status.
// Fetch failures depend on the store and are never reused.
func (s Status) Deterministic() bool {
	return s != StatusFetchFailed && s != ""
}

// Ref identifies one discovered document. It is immutable once discovered.
type Ref struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Format     Format    `json:"format"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`

	// Failure is set only on synthetic refs standing for a subtree that
	// could not be listed.
	Failure string `json:"failure,omitempty"`
}

// Name returns the base name of the document.
func (r Ref) Name() string {
	if r.Path == "" {
		return r.ID
	}
	return path.Base(r.Path)
}

// Failed reports whether the ref stands for an unlistable subtree.
func (r Ref) Failed() bool {
	return r.Failure != ""
}

// Record is a candidate: a ref plus whatever text could be extracted from it.
type Record struct {
	Ref    Ref    `json:"ref"`
	Text   string `json:"-"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Order is the position of the ref in discovery order.
	Order int `json:"order"`
}

// Scorable reports whether the record carries text worth sending for ranking.
func (r Record) Scorable() bool {
	return r.Status == StatusOK && strings.TrimSpace(r.Text) != ""
}
