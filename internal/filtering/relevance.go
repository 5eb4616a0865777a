package filtering

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/spigell/resume-ranker/internal/document"
)

// RelevanceName is the name of the relevance filter.
const RelevanceName = "relevance"

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {},
	"to": {}, "was": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "with": {},
	"any": {}, "candidate": {}, "candidates": {}, "them": {}, "their": {}, "there": {},
}

type relevanceFilter struct {
	toggle
	limit int
}

// NewRelevance creates a filter that keeps at most limit records, preferring
// those sharing the most terms with the query. Ties keep discovery order.
func NewRelevance(limit int) Filter {
	return &relevanceFilter{limit: limit}
}

func (f *relevanceFilter) Name() string { return RelevanceName }

func (f *relevanceFilter) Apply(_ context.Context, deps Deps, p *Pool) (Step, error) {
	initial := p.Len()
	if f.limit <= 0 || initial <= f.limit {
		return Step{Initial: initial, Left: initial}, nil
	}

	kept := map[string]struct{}{}
	for _, rec := range MostRelevant(p.Records, deps.Query, f.limit) {
		kept[rec.Ref.ID] = struct{}{}
	}
	dropped := p.Keep(f.Name(), func(rec document.Record) string {
		if _, ok := kept[rec.Ref.ID]; ok {
			return ""
		}
		return "less relevant to the query"
	})
	return Step{Initial: initial, Dropped: dropped, Left: p.Len()}, nil
}

func (f *relevanceFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"limit": strconv.Itoa(f.limit)},
	}
}

// MostRelevant returns up to limit records ordered by lexical overlap with
// query, most relevant first. Equal overlap keeps discovery order.
func MostRelevant(records []document.Record, query string, limit int) []document.Record {
	terms := Terms(query)

	type scored struct {
		rec     document.Record
		overlap int
	}
	ranked := make([]scored, 0, len(records))
	for _, rec := range records {
		ranked = append(ranked, scored{rec: rec, overlap: Overlap(terms, rec.Text)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].overlap != ranked[j].overlap {
			return ranked[i].overlap > ranked[j].overlap
		}
		return ranked[i].rec.Order < ranked[j].rec.Order
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]document.Record, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.rec)
	}
	return out
}

// Terms returns the distinct lower-cased words of s worth matching on.
func Terms(s string) map[string]struct{} {
	terms := map[string]struct{}{}
	for _, word := range words(s) {
		if len([]rune(word)) < 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		terms[word] = struct{}{}
	}
	return terms
}

// Overlap counts how many of terms occur in text.
func Overlap(terms map[string]struct{}, text string) int {
	if len(terms) == 0 {
		return 0
	}
	seen := map[string]struct{}{}
	for _, word := range words(text) {
		if _, ok := terms[word]; ok {
			seen[word] = struct{}{}
		}
	}
	return len(seen)
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}
