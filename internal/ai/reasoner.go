// Package ai defines the reasoning service used to score and question
// candidates. Providers live in sub-packages.
package ai

import (
	"context"
	"errors"
)

// ErrMalformedResponse is returned when a provider reply cannot be decoded
// into the expected shape.
var ErrMalformedResponse = errors.New("malformed reasoning response")

// Candidate is what a provider sees of one record: an opaque id, a display
// name and the (possibly truncated) extracted text.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Score is a provider's judgement of one candidate.
type Score struct {
	ID        string  `mapstructure:"id"`
	Score     float64 `mapstructure:"score"`
	Rationale string  `mapstructure:"rationale"`
}

// Answer is a provider's reply to a question about a candidate set.
type Answer struct {
	Text      string   `mapstructure:"answer"`
	Citations []string `mapstructure:"citations"`
}

// Reasoner scores candidates against a job description and answers free-form
// questions about them. Implementations must not invent candidate ids; callers
// still validate every id they get back.
type Reasoner interface {
	Rank(ctx context.Context, jobDescription string, candidates []Candidate) ([]Score, error)
	Answer(ctx context.Context, question string, candidates []Candidate) (*Answer, error)
}
