package pipeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/discovery"
	"github.com/spigell/resume-ranker/internal/document"
)

// Scanner discovers every document below a root and extracts all of them.
type Scanner struct {
	walker   *discovery.Walker
	pipeline *Pipeline
	logger   *zap.Logger
}

func NewScanner(walker *discovery.Walker, pipeline *Pipeline, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{walker: walker, pipeline: pipeline, logger: logger}
}

// Summary counts scan outcomes by status.
type Summary map[document.Status]int

// Summarize counts records by status.
func Summarize(records []document.Record) Summary {
	s := Summary{}
	for _, r := range records {
		s[r.Status]++
	}
	return s
}

// Scan drains the walk and then extracts the full manifest. Records are
// returned in discovery order. Nothing is returned when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, root string, memo Memo) ([]document.Record, error) {
	started := time.Now()

	refs := s.walker.Discover(ctx, root)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("discovered", zap.String("root", root), zap.Int("documents", len(refs)))

	records, err := s.pipeline.ExtractAll(ctx, refs, memo)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Order < records[j].Order })

	summary := Summarize(records)
	s.logger.Info("scanned",
		zap.String("root", root),
		zap.Int("documents", len(records)),
		zap.Int("parsed", summary[document.StatusOK]),
		zap.Int("failed", len(records)-summary[document.StatusOK]),
		zap.Duration("took", time.Since(started)),
	)
	return records, nil
}
