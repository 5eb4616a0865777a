package filtering

import (
	"context"
	"strings"

	"github.com/spigell/resume-ranker/internal/document"
)

// ScorableName is the name of the scorable filter.
const ScorableName = "scorable"

type scorableFilter struct {
	toggle
}

// NewScorable creates a filter that removes records without usable text. The
// removal reason is the record status.
func NewScorable() Filter {
	return &scorableFilter{}
}

func (f *scorableFilter) Name() string { return ScorableName }

func (f *scorableFilter) Apply(_ context.Context, _ Deps, p *Pool) (Step, error) {
	initial := p.Len()
	dropped := p.Keep(f.Name(), func(rec document.Record) string {
		if rec.Scorable() {
			return ""
		}
		if rec.Status == document.StatusOK && strings.TrimSpace(rec.Text) == "" {
			return string(document.StatusEmpty)
		}
		return string(rec.Status)
	})
	return Step{Initial: initial, Dropped: dropped, Left: p.Len()}, nil
}
