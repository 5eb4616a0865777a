// Package filtering narrows a session's records before they reach the
// reasoning service. Steps run in order and every removal is kept with its
// reason so callers can report it.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/document"
)

// Filter represents a single filtering step applied to a pool of records.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(ctx context.Context, deps Deps, p *Pool) (Step, error)
}

// Deps aggregates inputs shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
	// Query is the job description or question the records are filtered for.
	Query string
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Removed is a record taken out of the pool by a filter.
type Removed struct {
	Record document.Record
	Filter string
	Reason string
}

// Pool is the working set of records. Records keep their relative order.
type Pool struct {
	Records []document.Record
	Removed []Removed
}

// NewPool copies records into a pool so filtering never touches the caller's slice.
func NewPool(records []document.Record) *Pool {
	return &Pool{Records: append([]document.Record(nil), records...)}
}

func (p *Pool) Len() int { return len(p.Records) }

// Keep retains the records for which keep returns an empty reason and moves
// the others to Removed. It returns how many were removed.
func (p *Pool) Keep(filter string, keep func(document.Record) (reason string)) int {
	kept := p.Records[:0]
	dropped := 0
	for _, rec := range p.Records {
		if reason := keep(rec); reason != "" {
			p.Removed = append(p.Removed, Removed{Record: rec, Filter: filter, Reason: reason})
			dropped++
			continue
		}
		kept = append(kept, rec)
	}
	p.Records = kept
	return dropped
}

// RemovedBy returns the removals made by one filter.
func (p *Pool) RemovedBy(filter string) []Removed {
	var out []Removed
	for _, r := range p.Removed {
		if r.Filter == filter {
			out = append(out, r)
		}
	}
	return out
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// toggle carries the enable/disable state shared by all filters.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially on p.
func Run(ctx context.Context, deps Deps, steps []Filter, p *Pool) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			logger.Debug("filter disabled", zap.String("name", step.Name()))
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := step.Apply(ctx, deps, p)
		if err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}

		logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)
	}
	return nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
