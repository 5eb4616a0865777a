package ranking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/filtering"
)

const noCandidatesAnswer = "No candidate documents with readable text were found in this folder."

// QnAQuery asks a free-form question about the candidates of a folder.
type QnAQuery struct {
	SessionID string `json:"session_id" validate:"required"`
	Folder    string `json:"folder" validate:"required"`
	Question  string `json:"question" validate:"required"`
	Force     bool   `json:"force"`
}

// Citation is a candidate an answer relies on.
type Citation struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// QnAAnswer is the reply to a QnAQuery. Omitted lists unscorable or excluded
// records; Narrowed lists scorable records left out of the prompt to fit the
// budget.
type QnAAnswer struct {
	SessionID  string     `json:"session_id"`
	Generation uint64     `json:"generation"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Omitted    []Omission `json:"omitted,omitempty"`
	Narrowed   []Omission `json:"narrowed,omitempty"`
	Dropped    []string   `json:"dropped,omitempty"`
}

// Answer forwards the question with the session's candidates as context. When
// the candidates do not fit the prompt budget the ones sharing the most terms
// with the question are kept. A failed request is retried once with the most
// relevant half of the context; a second failure is returned as ErrReasoning.
func (o *Orchestrator) Answer(ctx context.Context, q QnAQuery) (*QnAAnswer, error) {
	if err := o.validate.Struct(q); err != nil {
		return nil, fmt.Errorf("invalid question: %w", err)
	}

	sess, pool, log, err := o.resolve(ctx, q.SessionID, q.Folder, q.Force, q.Question)
	if err != nil {
		return nil, err
	}

	result := &QnAAnswer{
		SessionID:  sess.ID,
		Generation: sess.Generation,
		Citations:  []Citation{},
		Omitted:    append(omissions(pool.RemovedBy(filtering.ScorableName)), omissions(pool.RemovedBy(filtering.ExcludeName))...),
	}

	if pool.Len() == 0 {
		result.Answer = noCandidatesAnswer
		return result, nil
	}

	limit := max(1, o.cfg.PromptBudgetChars/o.cfg.AnswerMinCharsPerCandidate)
	narrow := filtering.NewRelevance(limit)
	if err := filtering.Run(ctx, filtering.Deps{Logger: log, Query: q.Question}, []filtering.Filter{narrow}, pool); err != nil {
		return nil, err
	}
	result.Narrowed = omissions(pool.RemovedBy(filtering.RelevanceName))

	records := pool.Records
	answer, err := o.ask(ctx, q.Question, records)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		half := filtering.MostRelevant(records, q.Question, (len(records)+1)/2)
		log.Warn("answer failed, retrying with narrower context",
			zap.Int("candidates", len(records)),
			zap.Int("retry_candidates", len(half)),
			zap.Error(err),
		)
		result.Narrowed = append(result.Narrowed, leftOut(records, half)...)
		records = sortByOrder(half)

		answer, err = o.ask(ctx, q.Question, records)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w", document.ErrReasoning, err)
		}
	}

	result.Answer = strings.TrimSpace(answer.Text)
	idx := indexOf(records)
	cited := map[string]struct{}{}
	for _, id := range answer.Citations {
		key := strings.ToLower(strings.TrimSpace(id))
		rec, ok := idx[key]
		if !ok {
			log.Warn("answer cites unknown candidate id", zap.String("id", id))
			result.Dropped = append(result.Dropped, id)
			continue
		}
		if _, dup := cited[key]; dup {
			continue
		}
		cited[key] = struct{}{}
		result.Citations = append(result.Citations, Citation{ID: rec.Ref.ID, Path: rec.Ref.Path})
	}

	log.Info("answered question",
		zap.Int("candidates", len(records)),
		zap.Int("citations", len(result.Citations)),
		zap.Int("omitted", len(result.Omitted)),
		zap.Int("narrowed", len(result.Narrowed)),
	)
	return result, nil
}

func (o *Orchestrator) ask(ctx context.Context, question string, records []document.Record) (*ai.Answer, error) {
	rctx, cancel := o.requestContext(ctx)
	defer cancel()

	cands := candidates(records, o.cfg.MaxCharsPerCandidate, o.cfg.PromptBudgetChars)
	answer, err := o.reasoner.Answer(rctx, question, cands)
	if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("timeout after %s: %w", o.cfg.RequestTimeout, err)
	}
	return answer, err
}

func leftOut(all, kept []document.Record) []Omission {
	keep := make(map[string]struct{}, len(kept))
	for _, rec := range kept {
		keep[rec.Ref.ID] = struct{}{}
	}
	var out []Omission
	for _, rec := range all {
		if _, ok := keep[rec.Ref.ID]; ok {
			continue
		}
		out = append(out, Omission{ID: rec.Ref.ID, Path: rec.Ref.Path, Status: rec.Status, Reason: "dropped from retry context"})
	}
	return out
}

func sortByOrder(records []document.Record) []document.Record {
	out := slices.Clone(records)
	slices.SortFunc(out, func(a, b document.Record) int { return cmp.Compare(a.Order, b.Order) })
	return out
}
