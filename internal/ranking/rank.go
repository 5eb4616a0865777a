package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/filtering"
)

// RankingRequest asks for the candidates of a folder ranked against a job
// description.
type RankingRequest struct {
	SessionID      string `json:"session_id" validate:"required"`
	Folder         string `json:"folder" validate:"required"`
	JobDescription string `json:"job_description" validate:"required"`
	// TopK limits the ranked list; 0 keeps every candidate.
	TopK  int  `json:"top_k" validate:"gte=0"`
	Force bool `json:"force"`
}

// Ranked is one scored candidate.
type Ranked struct {
	ID        string  `json:"id"`
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	order     int
}

// Failure is a candidate the reasoning service could not score.
type Failure struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RankingResult lists every record of the generation exactly once across
// Ranked, Unscored, Excluded and Failures. Candidates cut by TopK are counted
// in Truncated.
type RankingResult struct {
	SessionID  string     `json:"session_id"`
	Generation uint64     `json:"generation"`
	Ranked     []Ranked   `json:"ranked"`
	Truncated  int        `json:"truncated,omitempty"`
	Unscored   []Omission `json:"unscored,omitempty"`
	Excluded   []Omission `json:"excluded,omitempty"`
	Failures   []Failure  `json:"failures,omitempty"`
	// Dropped lists ids the reasoning service returned that name no candidate.
	Dropped []string `json:"dropped,omitempty"`
}

// Rank scores every scorable candidate of the session against the job
// description. Reasoning failures are isolated to the smallest failing batch
// and reported in Failures; the error return is reserved for invalid requests,
// session resolution and cancellation.
func (o *Orchestrator) Rank(ctx context.Context, req RankingRequest) (*RankingResult, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid ranking request: %w", err)
	}

	sess, pool, log, err := o.resolve(ctx, req.SessionID, req.Folder, req.Force, req.JobDescription)
	if err != nil {
		return nil, err
	}

	result := &RankingResult{
		SessionID:  sess.ID,
		Generation: sess.Generation,
		Ranked:     []Ranked{},
		Unscored:   omissions(pool.RemovedBy(filtering.ScorableName)),
		Excluded:   omissions(pool.RemovedBy(filtering.ExcludeName)),
	}

	r := &rankRun{o: o, jd: req.JobDescription, result: result, log: log}
	if err := r.batch(ctx, pool.Records); err != nil {
		return nil, err
	}

	sort.SliceStable(result.Ranked, func(i, j int) bool {
		if result.Ranked[i].Score != result.Ranked[j].Score {
			return result.Ranked[i].Score > result.Ranked[j].Score
		}
		return result.Ranked[i].order < result.Ranked[j].order
	})
	if req.TopK > 0 && len(result.Ranked) > req.TopK {
		result.Truncated = len(result.Ranked) - req.TopK
		result.Ranked = result.Ranked[:req.TopK]
	}

	log.Info("ranked candidates",
		zap.Int("ranked", len(result.Ranked)),
		zap.Int("unscored", len(result.Unscored)),
		zap.Int("excluded", len(result.Excluded)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("dropped", len(result.Dropped)),
	)
	return result, nil
}

type rankRun struct {
	o      *Orchestrator
	jd     string
	result *RankingResult
	log    *zap.Logger
}

// batch scores records in one request. On failure the batch is split and each
// part is scored on its own, down to single candidates. Candidates the reply
// leaves out are asked for again in a batch of their own.
func (r *rankRun) batch(ctx context.Context, records []document.Record) error {
	if len(records) == 0 {
		return nil
	}

	scores, err := r.call(ctx, records)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.split(ctx, records, err)
	}

	idx := indexOf(records)
	scored := make(map[string]struct{}, len(records))
	for _, s := range scores {
		key := strings.ToLower(strings.TrimSpace(s.ID))
		rec, ok := idx[key]
		if !ok {
			r.log.Warn("reasoning service returned unknown candidate id", zap.String("id", s.ID))
			r.result.Dropped = append(r.result.Dropped, s.ID)
			continue
		}
		if _, dup := scored[key]; dup {
			continue
		}
		scored[key] = struct{}{}
		r.result.Ranked = append(r.result.Ranked, Ranked{
			ID:        rec.Ref.ID,
			Path:      rec.Ref.Path,
			Score:     clamp(s.Score),
			Rationale: strings.TrimSpace(s.Rationale),
			order:     rec.Order,
		})
	}

	var missing []document.Record
	for _, rec := range records {
		if _, ok := scored[alias(rec)]; !ok {
			missing = append(missing, rec)
		}
	}
	switch {
	case len(missing) == 0:
		return nil
	case len(missing) == len(records):
		return r.split(ctx, records, fmt.Errorf("%w: reply scored none of the candidates", ai.ErrMalformedResponse))
	default:
		r.log.Info("re-asking for candidates missing from reply", zap.Int("missing", len(missing)))
		return r.batch(ctx, missing)
	}
}

func (r *rankRun) split(ctx context.Context, records []document.Record, cause error) error {
	if len(records) == 1 {
		rec := records[0]
		r.log.Warn("candidate could not be scored", zap.String("path", rec.Ref.Path), zap.Error(cause))
		r.result.Failures = append(r.result.Failures, Failure{
			ID:     rec.Ref.ID,
			Path:   rec.Ref.Path,
			Reason: fmt.Errorf("%w: %w", document.ErrReasoning, cause).Error(),
		})
		return nil
	}

	parts := bisect(records, r.o.cfg.BisectionFactor)
	r.log.Info("reasoning batch failed, bisecting",
		zap.Int("batch", len(records)),
		zap.Int("parts", len(parts)),
		zap.Error(cause),
	)
	for _, part := range parts {
		if err := r.batch(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

func (r *rankRun) call(ctx context.Context, records []document.Record) ([]ai.Score, error) {
	rctx, cancel := r.o.requestContext(ctx)
	defer cancel()

	cands := candidates(records, r.o.cfg.MaxCharsPerCandidate, r.o.cfg.PromptBudgetChars)
	scores, err := r.o.reasoner.Rank(rctx, r.jd, cands)
	if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("timeout after %s: %w", r.o.cfg.RequestTimeout, err)
	}
	return scores, err
}

// bisect splits records into factor parts of nearly equal size.
func bisect(records []document.Record, factor int) [][]document.Record {
	factor = min(max(factor, 2), len(records))
	parts := make([][]document.Record, 0, factor)
	size, rest := len(records)/factor, len(records)%factor
	start := 0
	for i := 0; i < factor; i++ {
		end := start + size
		if i < rest {
			end++
		}
		parts = append(parts, records[start:end])
		start = end
	}
	return parts
}

func clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(100, score))
}
