// Package vector keeps per-session embedded records in memory and answers
// nearest-neighbour queries by brute-force cosine similarity.
package vector

import (
	"math"
	"sort"
	"sync"
)

// Metadata describes where a record's text came from (table, row, columns)
// or, for synthetic matches, flags such as "error".
type Metadata map[string]any

// Record is one embedded chunk.
type Record struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Match is a scored search hit.
type Match struct {
	Text     string   `json:"text"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

type collection struct {
	mu      sync.RWMutex
	records []Record
}

// Index holds one append-only collection per session. Writers and readers of
// the same session are serialized by that collection's lock; sessions never
// contend with each other past the map lookup.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
	// dropped ids never get a collection again. Session ids are not reused.
	dropped map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		collections: make(map[string]*collection),
		dropped:     make(map[string]struct{}),
	}
}

func (idx *Index) collection(sessionID string, create bool) *collection {
	idx.mu.RLock()
	c, ok := idx.collections[sessionID]
	idx.mu.RUnlock()
	if ok || !create {
		return c
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if c, ok = idx.collections[sessionID]; ok {
		return c
	}
	if _, gone := idx.dropped[sessionID]; gone {
		return nil
	}
	c = &collection{}
	idx.collections[sessionID] = c
	return c
}

// Add appends a record, creating the session's collection on first use. It
// reports false, storing nothing, once the session has been dropped.
func (idx *Index) Add(sessionID string, vec []float32, text string, meta Metadata) bool {
	c := idx.collection(sessionID, true)
	if c == nil {
		return false
	}
	r := Record{
		Vector:   append([]float32(nil), vec...),
		Text:     text,
		Metadata: meta,
	}
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	return true
}

// Search returns at most k records ordered by descending cosine similarity.
// Ties keep insertion order.
func (idx *Index) Search(sessionID string, query []float32, k int) []Match {
	if k <= 0 {
		return []Match{}
	}
	c := idx.collection(sessionID, false)
	if c == nil {
		return []Match{}
	}

	c.mu.RLock()
	scored := make([]Match, len(c.records))
	for i, r := range c.records {
		scored[i] = Match{
			Text:     r.Text,
			Score:    Cosine(query, r.Vector),
			Metadata: r.Metadata,
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Count reports how many records a session holds.
func (idx *Index) Count(sessionID string) int {
	c := idx.collection(sessionID, false)
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Drop forgets a session's records and refuses later Adds for it, so an
// index-all still running when the session closes cannot bring it back.
func (idx *Index) Drop(sessionID string) {
	idx.mu.Lock()
	delete(idx.collections, sessionID)
	idx.dropped[sessionID] = struct{}{}
	idx.mu.Unlock()
}

// Cosine is dot(a,b)/(|a||b|), or 0 when either norm is zero or the lengths
// differ. A length mismatch means the vectors came from different models.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
