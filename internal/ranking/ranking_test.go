package ranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/discovery"
	"github.com/spigell/resume-ranker/internal/document"
	"github.com/spigell/resume-ranker/internal/extract/extracttest"
	"github.com/spigell/resume-ranker/internal/pipeline"
	"github.com/spigell/resume-ranker/internal/session"
	"github.com/spigell/resume-ranker/internal/store/storetest"
)

type fakeReasoner struct {
	mu         sync.Mutex
	rankCalls  [][]ai.Candidate
	askCalls   [][]ai.Candidate
	rankFn     func(ctx context.Context, cands []ai.Candidate) ([]ai.Score, error)
	answerFn   func(ctx context.Context, cands []ai.Candidate) (*ai.Answer, error)
	lastPrompt string
}

func (f *fakeReasoner) Rank(ctx context.Context, jd string, cands []ai.Candidate) ([]ai.Score, error) {
	f.mu.Lock()
	f.rankCalls = append(f.rankCalls, cands)
	f.lastPrompt = jd
	f.mu.Unlock()
	return f.rankFn(ctx, cands)
}

func (f *fakeReasoner) Answer(ctx context.Context, q string, cands []ai.Candidate) (*ai.Answer, error) {
	f.mu.Lock()
	f.askCalls = append(f.askCalls, cands)
	f.lastPrompt = q
	f.mu.Unlock()
	return f.answerFn(ctx, cands)
}

// scoreByKeyword gives 90 to candidates mentioning Go and 20 to the rest.
func scoreByKeyword(_ context.Context, cands []ai.Candidate) ([]ai.Score, error) {
	scores := make([]ai.Score, 0, len(cands))
	for _, c := range cands {
		score := 20.0
		if strings.Contains(c.Text, "Go") {
			score = 90
		}
		scores = append(scores, ai.Score{ID: c.ID, Score: score, Rationale: "keyword match"})
	}
	return scores, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	mem      *storetest.Memory
	reasoner *fakeReasoner
	clock    *clock
	orch     *Orchestrator
}

func newHarness(t *testing.T, mem *storetest.Memory, reasoner *fakeReasoner, cfg Config) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	scanner := pipeline.NewScanner(discovery.New(mem, nil, nil), pipeline.New(mem, pipeline.DefaultConfig(), nil), nil)
	cache := session.New(scanner, session.Config{TTL: 30 * time.Minute}, nil, session.WithClock(clk.Now))
	return &harness{
		mem:      mem,
		reasoner: reasoner,
		clock:    clk,
		orch:     New(cache, reasoner, cfg, nil, WithFs(afero.NewMemMapFs())),
	}
}

func threeCandidates() *storetest.Memory {
	return storetest.NewMemory().
		AddFile("root", "alice.pdf", extracttest.PDF("Alice Smith. 5 years Go, distributed systems")).
		AddFile("root", "bob.docx", extracttest.DOCX("Bob Jones", "2 years frontend")).
		AddFile("root", "corrupt.pdf", []byte("%PDF-1.4 garbage"))
}

func rankedPaths(res *RankingResult) []string {
	out := make([]string, 0, len(res.Ranked))
	for _, r := range res.Ranked {
		out = append(out, r.Path)
	}
	return out
}

func TestRankOrdersCandidatesAndReportsUnscored(t *testing.T) {
	h := newHarness(t, threeCandidates(), &fakeReasoner{rankFn: scoreByKeyword}, Config{})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "senior backend engineer with distributed systems experience"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alice.pdf", "bob.docx"}, rankedPaths(res))
	assert.Equal(t, 90.0, res.Ranked[0].Score)
	assert.Equal(t, "root/alice.pdf", res.Ranked[0].ID)
	require.Len(t, res.Unscored, 1)
	assert.Equal(t, "corrupt.pdf", res.Unscored[0].Path)
	assert.Equal(t, document.StatusParseFailed, res.Unscored[0].Status)
	assert.NotEmpty(t, res.Unscored[0].Reason)
	assert.Empty(t, res.Failures)
	assert.Len(t, h.reasoner.rankCalls, 1)
	assert.Equal(t, "senior backend engineer with distributed systems experience", h.reasoner.lastPrompt)
}

func TestRankBisectsAfterTimeout(t *testing.T) {
	mem := storetest.NewMemory()
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		mem.AddFile("root", name, []byte("Go developer "+name))
	}
	reasoner := &fakeReasoner{rankFn: func(ctx context.Context, cands []ai.Candidate) ([]ai.Score, error) {
		if len(cands) == 4 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return scoreByKeyword(ctx, cands)
	}}
	h := newHarness(t, mem, reasoner, Config{RequestTimeout: 20 * time.Millisecond})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"})
	require.NoError(t, err)

	assert.Len(t, res.Ranked, 4)
	assert.Empty(t, res.Failures)
	require.Len(t, reasoner.rankCalls, 3)
	assert.Len(t, reasoner.rankCalls[1], 2)
	assert.Len(t, reasoner.rankCalls[2], 2)
}

func TestRankRecordsSingleCandidateFailures(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("Go")).
		AddFile("root", "poison.txt", []byte("poison")).
		AddFile("root", "c.txt", []byte("Java"))
	reasoner := &fakeReasoner{rankFn: func(ctx context.Context, cands []ai.Candidate) ([]ai.Score, error) {
		for _, c := range cands {
			if c.Text == "poison" {
				return nil, fmt.Errorf("%w: garbled", ai.ErrMalformedResponse)
			}
		}
		return scoreByKeyword(ctx, cands)
	}}
	h := newHarness(t, mem, reasoner, Config{})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "c.txt"}, rankedPaths(res))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "poison.txt", res.Failures[0].Path)
	assert.Contains(t, res.Failures[0].Reason, document.ErrReasoning.Error())
}

func TestRankDropsUnknownIdsAndReasksMissing(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("Go")).
		AddFile("root", "b.txt", []byte("Java"))
	first := true
	reasoner := &fakeReasoner{rankFn: func(ctx context.Context, cands []ai.Candidate) ([]ai.Score, error) {
		if first {
			first = false
			return []ai.Score{{ID: "C1", Score: 150}, {ID: "c99", Score: 80}}, nil
		}
		return scoreByKeyword(ctx, cands)
	}}
	h := newHarness(t, mem, reasoner, Config{})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"c99"}, res.Dropped)
	assert.Equal(t, []string{"a.txt", "b.txt"}, rankedPaths(res))
	assert.Equal(t, 100.0, res.Ranked[0].Score, "scores are clamped")
	require.Len(t, reasoner.rankCalls, 2)
	require.Len(t, reasoner.rankCalls[1], 1)
	assert.Equal(t, "c2", reasoner.rankCalls[1][0].ID)
}

func TestRankIsStablePermutation(t *testing.T) {
	mem := storetest.NewMemory()
	names := []string{"e.txt", "a.txt", "d.txt", "b.txt", "c.txt"}
	for _, name := range names {
		mem.AddFile("root", name, []byte("same text "+name))
	}
	reasoner := &fakeReasoner{rankFn: func(_ context.Context, cands []ai.Candidate) ([]ai.Score, error) {
		scores := make([]ai.Score, 0, len(cands))
		for i := len(cands) - 1; i >= 0; i-- {
			scores = append(scores, ai.Score{ID: cands[i].ID, Score: 50})
		}
		return scores, nil
	}}
	h := newHarness(t, mem, reasoner, Config{})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "anything"})
	require.NoError(t, err)

	// Equal scores keep discovery order, which is the store's listing order.
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"}, rankedPaths(res))
}

func TestRankTopK(t *testing.T) {
	h := newHarness(t, threeCandidates(), &fakeReasoner{rankFn: scoreByKeyword}, Config{})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.pdf"}, rankedPaths(res))
	assert.Equal(t, 1, res.Truncated)
}

func TestSecondRankReusesSession(t *testing.T) {
	mem := threeCandidates()
	h := newHarness(t, mem, &fakeReasoner{rankFn: scoreByKeyword}, Config{})
	req := RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"}

	first, err := h.orch.Rank(context.Background(), req)
	require.NoError(t, err)
	lists, fetches := mem.Lists.Load(), mem.Fetches.Load()

	req.JobDescription = "Java"
	second, err := h.orch.Rank(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Generation, second.Generation)
	assert.Equal(t, lists, mem.Lists.Load())
	assert.Equal(t, fetches, mem.Fetches.Load())
}

func TestRankValidatesRequest(t *testing.T) {
	h := newHarness(t, threeCandidates(), &fakeReasoner{rankFn: scoreByKeyword}, Config{})

	_, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root"})
	require.Error(t, err)
	_, err = h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go", TopK: -1})
	require.Error(t, err)
	assert.Equal(t, int64(0), h.mem.Lists.Load())
}

func TestRankHonoursExcludePatterns(t *testing.T) {
	h := newHarness(t, threeCandidates(), &fakeReasoner{rankFn: scoreByKeyword}, Config{Exclude: []string{"bob*"}})

	res, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice.pdf"}, rankedPaths(res))
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "bob.docx", res.Excluded[0].Path)
}

func TestAnswerMapsCitations(t *testing.T) {
	reasoner := &fakeReasoner{answerFn: func(context.Context, []ai.Candidate) (*ai.Answer, error) {
		return &ai.Answer{Text: " Alice has built distributed systems. ", Citations: []string{"c1", "c1", "c42"}}, nil
	}}
	h := newHarness(t, threeCandidates(), reasoner, Config{})

	ans, err := h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who has distributed systems experience?"})
	require.NoError(t, err)

	assert.Equal(t, "Alice has built distributed systems.", ans.Answer)
	assert.Equal(t, []Citation{{ID: "root/alice.pdf", Path: "alice.pdf"}}, ans.Citations)
	assert.Equal(t, []string{"c42"}, ans.Dropped)
	require.Len(t, ans.Omitted, 1)
	assert.Equal(t, "corrupt.pdf", ans.Omitted[0].Path)
	require.Len(t, reasoner.askCalls, 1)
	assert.Len(t, reasoner.askCalls[0], 2)
}

func TestAnswerNarrowsToBudget(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("Java Spring")).
		AddFile("root", "b.txt", []byte("Kubernetes operator")).
		AddFile("root", "c.txt", []byte("Go and Kubernetes"))
	reasoner := &fakeReasoner{answerFn: func(context.Context, []ai.Candidate) (*ai.Answer, error) {
		return &ai.Answer{Text: "ok"}, nil
	}}
	h := newHarness(t, mem, reasoner, Config{PromptBudgetChars: 2000, AnswerMinCharsPerCandidate: 1000})

	ans, err := h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who has Go and Kubernetes?"})
	require.NoError(t, err)

	require.Len(t, ans.Narrowed, 1)
	assert.Equal(t, "a.txt", ans.Narrowed[0].Path)
	require.Len(t, reasoner.askCalls, 1)
	assert.Equal(t, []string{"c2", "c3"}, []string{reasoner.askCalls[0][0].ID, reasoner.askCalls[0][1].ID})
}

func TestAnswerRetriesWithHalfThenFails(t *testing.T) {
	mem := storetest.NewMemory().
		AddFile("root", "a.txt", []byte("Go")).
		AddFile("root", "b.txt", []byte("Java")).
		AddFile("root", "c.txt", []byte("Rust")).
		AddFile("root", "d.txt", []byte("Go Rust"))

	calls := 0
	reasoner := &fakeReasoner{answerFn: func(_ context.Context, cands []ai.Candidate) (*ai.Answer, error) {
		calls++
		if calls == 1 {
			return nil, ai.ErrMalformedResponse
		}
		return &ai.Answer{Text: "Rust: c3, c4", Citations: []string{"c3", "c4"}}, nil
	}}
	h := newHarness(t, mem, reasoner, Config{})

	ans, err := h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who writes Rust?"})
	require.NoError(t, err)
	require.Len(t, reasoner.askCalls, 2)
	assert.Len(t, reasoner.askCalls[1], 2)
	assert.Equal(t, "c3", reasoner.askCalls[1][0].ID)
	assert.Equal(t, "c4", reasoner.askCalls[1][1].ID)
	assert.Len(t, ans.Narrowed, 2)
	assert.Len(t, ans.Citations, 2)

	reasoner.answerFn = func(context.Context, []ai.Candidate) (*ai.Answer, error) {
		return nil, errors.New("service unavailable")
	}
	_, err = h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who writes Rust?"})
	assert.ErrorIs(t, err, document.ErrReasoning)
}

func TestAnswerAfterExpiryRescans(t *testing.T) {
	reasoner := &fakeReasoner{
		rankFn: scoreByKeyword,
		answerFn: func(context.Context, []ai.Candidate) (*ai.Answer, error) {
			return &ai.Answer{Text: "Alice"}, nil
		},
	}
	mem := threeCandidates()
	h := newHarness(t, mem, reasoner, Config{})

	ranked, err := h.orch.Rank(context.Background(), RankingRequest{SessionID: "s", Folder: "root", JobDescription: "Go"})
	require.NoError(t, err)
	lists := mem.Lists.Load()

	h.clock.Advance(31 * time.Minute)
	ans, err := h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who?"})
	require.NoError(t, err)

	assert.Greater(t, ans.Generation, ranked.Generation)
	assert.Greater(t, mem.Lists.Load(), lists)
}

func TestAnswerWithoutReadableCandidates(t *testing.T) {
	mem := storetest.NewMemory().AddFile("root", "corrupt.pdf", []byte("nope"))
	reasoner := &fakeReasoner{}
	h := newHarness(t, mem, reasoner, Config{})

	ans, err := h.orch.Answer(context.Background(), QnAQuery{SessionID: "s", Folder: "root", Question: "Who?"})
	require.NoError(t, err)
	assert.Equal(t, noCandidatesAnswer, ans.Answer)
	assert.Len(t, ans.Omitted, 1)
	assert.Empty(t, reasoner.askCalls)
}
