package vectorstore

import (
	"sort"
	"sync"

	"github.com/agentmem/substrate/internal/memtypes"
)

// fallbackIndex is a bounded in-memory substitute used while the SQLite
// store is unreachable. It is capped at maxItems records (oldest evicted
// first) so a prolonged outage can never grow it unbounded (spec's
// memory-leak protection requirement).
type fallbackIndex struct {
	mu       sync.Mutex
	maxItems int
	order    []string
	byID     map[string]memtypes.LongTermRecord
}

func newFallbackIndex(maxItems int) *fallbackIndex {
	return &fallbackIndex{
		maxItems: maxItems,
		byID:     make(map[string]memtypes.LongTermRecord),
	}
}

func (f *fallbackIndex) put(rec memtypes.LongTermRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byID[rec.ID]; !exists {
		f.order = append(f.order, rec.ID)
	}
	f.byID[rec.ID] = rec

	for len(f.order) > f.maxItems {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.byID, oldest)
	}
}

func (f *fallbackIndex) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func (f *fallbackIndex) search(queryVec []float32, opts SearchOptions, limit int) []Match {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Match
	for _, rec := range f.byID {
		if rec.Agent != opts.Agent {
			continue
		}
		if opts.Type != "" && rec.Type != opts.Type {
			continue
		}
		if opts.StoryID != "" && rec.StoryID != opts.StoryID {
			continue
		}
		if opts.EpicID != "" && rec.EpicID != opts.EpicID {
			continue
		}
		if opts.TaskID != "" && rec.TaskID != opts.TaskID {
			continue
		}
		rec.IsFallback = true
		out = append(out, Match{Record: rec, Score: cosineSimilarity(queryVec, rec.Embedding)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
