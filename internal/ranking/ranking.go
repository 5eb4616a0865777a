// Package ranking scores and questions the candidates of a session through a
// reasoning service. Every record of the session ends up either in the result
// or in one of its omission lists.
package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/filtering"
	"github.com/spigell/resume-ranker/internal/logger"
	"github.com/spigell/resume-ranker/internal/session"
)

// Config bounds the prompts sent to the reasoning service.
type Config struct {
	MaxCharsPerCandidate       int           `mapstructure:"max-chars-per-candidate"`
	PromptBudgetChars          int           `mapstructure:"prompt-budget-chars"`
	BisectionFactor            int           `mapstructure:"bisection-factor"`
	RequestTimeout             time.Duration `mapstructure:"request-timeout"`
	AnswerMinCharsPerCandidate int           `mapstructure:"answer-min-chars-per-candidate"`
	Exclude                    []string      `mapstructure:"exclude"`
	ExcludeFile                string        `mapstructure:"exclude-file"`
}

// DefaultConfig returns budgets sized for a long-context model.
func DefaultConfig() Config {
	return Config{
		MaxCharsPerCandidate:       12000,
		PromptBudgetChars:          200000,
		BisectionFactor:            2,
		RequestTimeout:             2 * time.Minute,
		AnswerMinCharsPerCandidate: 4000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxCharsPerCandidate <= 0 {
		c.MaxCharsPerCandidate = d.MaxCharsPerCandidate
	}
	if c.PromptBudgetChars <= 0 {
		c.PromptBudgetChars = d.PromptBudgetChars
	}
	if c.BisectionFactor < 2 {
		c.BisectionFactor = d.BisectionFactor
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.AnswerMinCharsPerCandidate <= 0 {
		c.AnswerMinCharsPerCandidate = d.AnswerMinCharsPerCandidate
	}
	return c
}

// Sessions resolves the candidate records of a session.
type Sessions interface {
	GetOrPopulate(ctx context.Context, id, root string, force bool) (session.Session, bool, error)
}

// Orchestrator implements ranking and question answering over sessions.
type Orchestrator struct {
	sessions Sessions
	reasoner ai.Reasoner
	cfg      Config
	fs       afero.Fs
	validate *validator.Validate
	logger   *zap.Logger
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithFs sets the filesystem the exclude file is read from.
func WithFs(fs afero.Fs) Option {
	return func(o *Orchestrator) { o.fs = fs }
}

func New(sessions Sessions, reasoner ai.Reasoner, cfg Config, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		sessions: sessions,
		reasoner: reasoner,
		cfg:      cfg.withDefaults(),
		fs:       afero.NewOsFs(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Omission is a record that was not sent to the reasoning service.
type Omission struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Status document.Status `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// resolve loads the session and splits its records into usable candidates,
// unscorable records and excluded records.
func (o *Orchestrator) resolve(ctx context.Context, sessionID, folder string, force bool, query string) (session.Session, *filtering.Pool, *zap.Logger, error) {
	sess, populated, err := o.sessions.GetOrPopulate(ctx, sessionID, folder, force)
	if err != nil {
		return session.Session{}, nil, nil, fmt.Errorf("resolve session %q: %w", sessionID, err)
	}

	log := logger.WithSession(o.logger, sess.ID, sess.Generation)
	log.Debug("session resolved", zap.Bool("populated", populated), zap.Int("records", len(sess.Records)))

	pool := filtering.NewPool(sess.Records)
	steps := []filtering.Filter{
		filtering.NewScorable(),
		filtering.NewExclude(o.fs, o.cfg.Exclude, o.cfg.ExcludeFile),
	}
	if err := filtering.Run(ctx, filtering.Deps{Logger: log, Query: query}, steps, pool); err != nil {
		return session.Session{}, nil, nil, err
	}
	return sess, pool, log, nil
}

func omissions(removed []filtering.Removed) []Omission {
	out := make([]Omission, 0, len(removed))
	for _, r := range removed {
		reason := r.Record.Detail
		if r.Filter != filtering.ScorableName || reason == "" {
			reason = r.Reason
		}
		out = append(out, Omission{
			ID:     r.Record.Ref.ID,
			Path:   r.Record.Ref.Path,
			Status: r.Record.Status,
			Reason: reason,
		})
	}
	return out
}

func (o *Orchestrator) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.RequestTimeout)
}
