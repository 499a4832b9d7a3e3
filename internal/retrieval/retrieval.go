// Package retrieval implements the substrate's two-tier Retrieval Pipeline
// (spec C6): a short-term scan over the live working-memory document scored
// by query-term frequency (adapted from internal/memory/learning.go
// SearchKnowledge, with no inverse-document-frequency weighting) fused with
// a long-term vector-store search, then ranked with every short-term result
// ahead of every long-term one, whatever their scores (spec P8).
package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentmem/substrate/internal/config"
	"github.com/agentmem/substrate/internal/memtypes"
	"github.com/agentmem/substrate/internal/vectorstore"
)

var wordRegex = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "in": true, "to": true, "of": true, "for": true,
	"it": true, "on": true, "at": true, "by": true, "this": true,
	"that": true, "with": true, "from": true, "as": true, "be": true,
	"was": true, "are": true, "been": true, "being": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"i": true, "you": true, "we": true, "they": true, "he": true, "she": true,
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	matches := wordRegex.FindAllString(text, -1)
	var terms []string
	for _, t := range matches {
		if len(t) >= 2 && !stopwords[t] {
			terms = append(terms, t)
		}
	}
	return terms
}

// Source distinguishes where a retrieval Result came from, for the fusion
// rule that ranks short-term hits ahead of long-term ones.
type Source string

const (
	SourceShortTerm Source = "short-term"
	SourceLongTerm  Source = "long-term"
)

// Result is one retrieved item, ranked.
type Result struct {
	Source    Source                 `json:"source"`
	Type      string                 `json:"type"`
	Text      string                 `json:"text"`
	Score     float64                `json:"score"`
	Timestamp time.Time              `json:"timestamp"`
	Context   memtypes.Context       `json:"context"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Pipeline fuses short-term and long-term retrieval for one agent.
type Pipeline struct {
	cfg   *config.Config
	store *vectorstore.Store
}

// New constructs a retrieval Pipeline. store may be nil, in which case
// Search only consults working memory.
func New(cfg *config.Config, store *vectorstore.Store) *Pipeline {
	return &Pipeline{cfg: cfg, store: store}
}

// Options narrows a Search call.
type Options struct {
	Context memtypes.Context // when non-empty, restricts long-term search to matching taskId/epicId/storyId
	Limit   int
}

// Search scores every short-term section of wm against query, fuses it with
// a long-term vector-store search, and returns results ranked with every
// short-term entry ahead of every long-term entry, most recent first within
// each tier (spec P8, §4.6 step 3). Score decides which short-term entries
// make each section's cap, not the final ordering.
func (p *Pipeline) Search(ctx context.Context, wm memtypes.WorkingMemory, query string, opts Options) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	queryTerms := tokenize(query)
	var results []Result

	results = append(results, scoreShortTerm(wm, queryTerms, opts)...)

	if p.store != nil {
		matches, err := p.store.Search(ctx, query, vectorstore.SearchOptions{
			Agent:   wm.AgentName,
			StoryID: opts.Context.StoryID,
			EpicID:  opts.Context.EpicID,
			TaskID:  opts.Context.TaskID,
			Limit:   limit,
		})
		if err == nil {
			for _, m := range matches {
				results = append(results, Result{
					Source: SourceLongTerm, Type: m.Record.Type, Text: m.Record.Text,
					Score: m.Score, Timestamp: m.Record.Timestamp,
					Context: memtypes.Context{StoryID: m.Record.StoryID, EpicID: m.Record.EpicID, TaskID: m.Record.TaskID},
					Metadata: map[string]interface{}{"isFallback": m.Record.IsFallback},
				})
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Source != results[j].Source {
			return results[i].Source == SourceShortTerm
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Per-section result caps for the short-term scan (spec §4.6.1).
const (
	capObservations = 10
	capDecisions    = 5
	capKeyFacts     = 10
	capBlockers     = 5
)

// contextMatches reports whether entry's captured context satisfies opts'
// storyId/epicId filter. An empty filter field matches anything; a
// non-empty one must equal the entry's corresponding field exactly (spec
// §4.6.1: combined AND-wise with the substring match).
func contextMatches(entry memtypes.Context, opts Options) bool {
	if opts.Context.StoryID != "" && entry.StoryID != opts.Context.StoryID {
		return false
	}
	if opts.Context.EpicID != "" && entry.EpicID != opts.Context.EpicID {
		return false
	}
	return true
}

func capSection(results []Result, cap int) []Result {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > cap {
		results = results[:cap]
	}
	return results
}

// scoreShortTerm scores every observation/decision/key fact/blocker, and the
// synthetic whole-document plan, against queryTerms using plain term-overlap
// weighting (TF only — no IDF corpus exists for a single agent's small
// in-memory sections, so the teacher's document-frequency term is dropped,
// keeping only the per-term frequency half of its TF-IDF scoring). Matches
// are filtered AND-wise by opts' storyId/epicId context before each
// section is capped to its documented size (spec §4.6.1).
func scoreShortTerm(wm memtypes.WorkingMemory, queryTerms []string, opts Options) []Result {
	if len(queryTerms) == 0 {
		return nil
	}

	score := func(text string) float64 {
		terms := tokenize(text)
		if len(terms) == 0 {
			return 0
		}
		freq := map[string]int{}
		for _, t := range terms {
			freq[t]++
		}
		var s float64
		for _, qt := range queryTerms {
			if c, ok := freq[qt]; ok {
				s += float64(c) / float64(len(terms))
			}
		}
		return s
	}

	var obs, dec, blk, facts []Result

	for _, o := range wm.Observations {
		if !contextMatches(o.Context, opts) {
			continue
		}
		if s := score(o.Content); s > 0 {
			obs = append(obs, Result{Source: SourceShortTerm, Type: memtypes.TypeObservation, Text: o.Content, Score: s, Timestamp: o.Timestamp, Context: o.Context})
		}
	}
	for _, d := range wm.Decisions {
		if !contextMatches(d.Context, opts) {
			continue
		}
		if s := score(d.Decision + " " + d.Reasoning); s > 0 {
			dec = append(dec, Result{Source: SourceShortTerm, Type: memtypes.TypeDecision, Text: d.Decision, Score: s, Timestamp: d.Timestamp, Context: d.Context})
		}
	}
	for _, b := range wm.Blockers {
		if !contextMatches(b.Context, opts) {
			continue
		}
		if s := score(b.Blocker); s > 0 {
			blk = append(blk, Result{Source: SourceShortTerm, Type: memtypes.TypeBlocker, Text: b.Blocker, Score: s, Timestamp: b.Timestamp, Context: b.Context})
		}
	}
	for key, f := range wm.KeyFacts {
		if !contextMatches(f.Context, opts) {
			continue
		}
		if s := score(f.Content); s > 0 {
			facts = append(facts, Result{Source: SourceShortTerm, Type: memtypes.TypeKeyFact, Text: f.Content, Score: s, Timestamp: f.Timestamp, Context: f.Context, Metadata: map[string]interface{}{"key": key}})
		}
	}

	var out []Result
	out = append(out, capSection(obs, capObservations)...)
	out = append(out, capSection(dec, capDecisions)...)
	out = append(out, capSection(facts, capKeyFacts)...)
	out = append(out, capSection(blk, capBlockers)...)

	if contextMatches(wm.CurrentContext, opts) {
		if s := score(strings.Join(wm.Plan, "\n")); s > 0 {
			out = append(out, Result{Source: SourceShortTerm, Type: memtypes.TypePlan, Text: strings.Join(wm.Plan, "\n"), Score: s, Timestamp: wm.LastUpdated, Context: wm.CurrentContext})
		}
	}

	return out
}
