package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, prompt string) (string, error)
}

//go:embed rank.md
var rankTemplate string

//go:embed answer.md
var answerTemplate string

const (
	defaultMaxLogLength = 200
	systemInstruction   = "You are a careful technical recruiter. You only use the documents you are given and you always reply with valid JSON."
)

// Reasoner implements ai.Reasoner on top of a Gemini generator.
type Reasoner struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Reasoner = (*Reasoner)(nil)

func NewReasoner(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Reasoner {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reasoner{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

func (r *Reasoner) Rank(ctx context.Context, jobDescription string, candidates []ai.Candidate) ([]ai.Score, error) {
	if strings.TrimSpace(jobDescription) == "" {
		return nil, fmt.Errorf("job description is required")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	prompt, err := buildPrompt(rankTemplate, "{{JOB_DESCRIPTION}}", jobDescription, candidates)
	if err != nil {
		return nil, err
	}

	raw, err := r.generate(ctx, "rank", prompt, len(candidates))
	if err != nil {
		return nil, err
	}

	var reply struct {
		Scores []scoreReply `mapstructure:"scores"`
	}
	if err := decodeReply(raw, &reply); err != nil {
		return nil, err
	}

	scores := make([]ai.Score, 0, len(reply.Scores))
	for _, s := range reply.Scores {
		// Without a score the candidate counts as unanswered and is asked
		// for again rather than ranked as zero.
		if s.Score == nil {
			r.logger.Warn("gemini reply has no score for candidate", zap.String("id", s.ID))
			continue
		}
		scores = append(scores, ai.Score{ID: s.ID, Score: *s.Score, Rationale: s.Rationale})
	}
	return scores, nil
}

// scoreReply is one entry of a rank reply as the model sends it.
type scoreReply struct {
	ID        string   `mapstructure:"id"`
	Score     *float64 `mapstructure:"score"`
	Rationale string   `mapstructure:"rationale"`
}

func (r *Reasoner) Answer(ctx context.Context, question string, candidates []ai.Candidate) (*ai.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	prompt, err := buildPrompt(answerTemplate, "{{QUESTION}}", question, candidates)
	if err != nil {
		return nil, err
	}

	raw, err := r.generate(ctx, "answer", prompt, len(candidates))
	if err != nil {
		return nil, err
	}

	var answer ai.Answer
	if err := decodeReply(raw, &answer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(answer.Text) == "" {
		return nil, fmt.Errorf("%w: empty answer", ai.ErrMalformedResponse)
	}
	return &answer, nil
}

func (r *Reasoner) generate(ctx context.Context, kind, prompt string, candidates int) (string, error) {
	r.logger.Debug("gemini generate content request",
		zap.String("kind", kind),
		zap.Int("candidates", candidates),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, r.maxLogLen)),
	)

	raw, err := r.generator.GenerateContent(ctx, systemInstruction, prompt)
	if err != nil {
		return "", err
	}

	r.logger.Debug("gemini generate content response",
		zap.String("kind", kind),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, r.maxLogLen)),
	)
	return raw, nil
}

func buildPrompt(template, placeholder, input string, candidates []ai.Candidate) (string, error) {
	payload, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidates: %w", err)
	}
	prompt := strings.ReplaceAll(template, placeholder, strings.TrimSpace(input))
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATES}}", string(payload))
	return prompt, nil
}

// decodeReply parses a JSON reply, tolerating code fences and loosely typed
// values such as scores sent as strings.
func decodeReply(raw string, out any) error {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return fmt.Errorf("%w: %w", ai.ErrMalformedResponse, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("%w: %w", ai.ErrMalformedResponse, err)
	}
	return nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
