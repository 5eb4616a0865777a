package ranking

import (
	"strconv"
	"strings"

	"github.com/spigell/resume-ranker/internal/ai"
	"github.com/spigell/resume-ranker/internal/document"
)

// alias is the id a record is known by in prompts. It is derived from the
// discovery position, so it is unique and stable within a generation and
// invented ids are easy to spot.
func alias(rec document.Record) string {
	return "c" + strconv.Itoa(rec.Order+1)
}

// candidates converts records into prompt candidates. Each text is cut to
// maxPer runes and, if the total still exceeds budget, every text is scaled
// down by the same factor. Cuts keep the head of the document.
func candidates(records []document.Record, maxPer, budget int) []ai.Candidate {
	lengths := make([]int, len(records))
	total := 0
	for i, rec := range records {
		lengths[i] = min(len([]rune(rec.Text)), maxPer)
		total += lengths[i]
	}
	if budget > 0 && total > budget {
		for i := range lengths {
			lengths[i] = max(1, lengths[i]*budget/total)
		}
	}

	out := make([]ai.Candidate, 0, len(records))
	for i, rec := range records {
		out = append(out, ai.Candidate{
			ID:   alias(rec),
			Name: rec.Ref.Name(),
			Text: head(rec.Text, lengths[i]),
		})
	}
	return out
}

func head(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n]))
}

// index maps prompt aliases back to records.
type index map[string]document.Record

func indexOf(records []document.Record) index {
	idx := make(index, len(records))
	for _, rec := range records {
		idx[alias(rec)] = rec
	}
	return idx
}
