package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/lexicon"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	snapshotVersion    = 1
	exactMatchFactor   = 2.0
	partialMatchFactor = 1.0
	minPartialRunes    = 3
)

type posting struct {
	DocID  string  `json:"doc_id"`
	Weight float64 `json:"weight"`
}

// Index is an in-memory inverted index of keyword tokens. Search takes a read
// lock, so readers only wait while a writer is mutating.
type Index struct {
	mu       sync.RWMutex
	terms    map[string][]posting
	docTerms map[string][]string
	docSeq   map[string]uint64
	nextSeq  uint64

	store  ports.SnapshotStore
	key    string
	logger *slog.Logger
}

func New(store ports.SnapshotStore, key string, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if key == "" {
		key = "keyword_index.json"
	}
	return &Index{
		terms:    make(map[string][]posting),
		docTerms: make(map[string][]string),
		docSeq:   make(map[string]uint64),
		store:    store,
		key:      key,
		logger:   logger,
	}
}

// Add indexes text under docID, replacing any previous postings of docID.
// Non-positive weights are treated as 1.
func (ix *Index) Add(docID, text string, weight float64) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return
	}
	if weight <= 0 {
		weight = 1
	}
	tokens := indexTokens(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(docID)
	if _, ok := ix.docSeq[docID]; !ok {
		ix.docSeq[docID] = ix.nextSeq
		ix.nextSeq++
	}
	for _, token := range tokens {
		ix.terms[token] = append(ix.terms[token], posting{DocID: docID, Weight: weight})
	}
	ix.docTerms[docID] = tokens
}

// Remove drops docID from every posting list. It reports whether the
// document was indexed.
func (ix *Index) Remove(docID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, known := ix.docSeq[docID]
	ix.removeLocked(docID)
	delete(ix.docSeq, docID)
	return known
}

func (ix *Index) removeLocked(docID string) {
	for _, term := range ix.docTerms[docID] {
		postings := ix.terms[term]
		kept := postings[:0]
		for _, p := range postings {
			if p.DocID != docID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(ix.terms, term)
			continue
		}
		ix.terms[term] = kept
	}
	delete(ix.docTerms, docID)
}

// Search scores documents against the query: 2×weight for an exact token
// match plus 1×weight for every indexed token that contains, or is contained
// in, a query token of at least three runes.
func (ix *Index) Search(query string, topK int) []domain.KeywordHit {
	terms := queryTerms(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scores := make(map[string]float64)
	for _, term := range terms {
		for _, p := range ix.terms[term] {
			scores[p.DocID] += exactMatchFactor * p.Weight
		}
		if utf8.RuneCountInString(term) < minPartialRunes {
			continue
		}
		matched := make([]string, 0, 4)
		for indexed := range ix.terms {
			if strings.Contains(indexed, term) || strings.Contains(term, indexed) {
				matched = append(matched, indexed)
			}
		}
		sort.Strings(matched)
		for _, indexed := range matched {
			for _, p := range ix.terms[indexed] {
				scores[p.DocID] += partialMatchFactor * p.Weight
			}
		}
	}

	hits := make([]domain.KeywordHit, 0, len(scores))
	for docID, score := range scores {
		hits = append(hits, domain.KeywordHit{DocumentID: docID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return ix.docSeq[hits[i].DocumentID] < ix.docSeq[hits[j].DocumentID]
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docTerms)
}

// Reset empties the index.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked()
}

func (ix *Index) resetLocked() {
	ix.terms = make(map[string][]posting)
	ix.docTerms = make(map[string][]string)
	ix.docSeq = make(map[string]uint64)
	ix.nextSeq = 0
}

// Rebuild replaces the index contents with every chunk from source.
func (ix *Index) Rebuild(ctx context.Context, source ports.ChunkLister) (int, error) {
	fresh := New(nil, ix.key, ix.logger)
	count := 0
	err := source.ListChunks(ctx, func(chunk domain.Chunk) error {
		fresh.Add(chunk.ID, chunk.Content, 1)
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("list chunks: %w", err)
	}

	ix.mu.Lock()
	ix.terms = fresh.terms
	ix.docTerms = fresh.docTerms
	ix.docSeq = fresh.docSeq
	ix.nextSeq = fresh.nextSeq
	ix.mu.Unlock()

	ix.logger.Info("keyword_index_rebuilt", "documents", count)
	return count, nil
}

func indexTokens(text string) []string {
	raw := lexicon.KeywordTokens(text)
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.ToLower(token)
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func queryTerms(query string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	add := func(token string) {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			return
		}
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	for _, token := range lexicon.KeywordTokens(query) {
		add(token)
	}
	for _, word := range strings.Fields(query) {
		add(word)
	}
	return out
}

type snapshot struct {
	Version  int                  `json:"version"`
	Index    map[string][]posting `json:"index"`
	DocTerms map[string][]string  `json:"doc_keywords"`
	DocOrder []string             `json:"doc_order"`
}

// Save writes a full snapshot through the snapshot store.
func (ix *Index) Save(ctx context.Context) error {
	if ix.store == nil {
		return nil
	}

	ix.mu.RLock()
	order := make([]string, 0, len(ix.docSeq))
	for docID := range ix.docSeq {
		order = append(order, docID)
	}
	sort.Slice(order, func(i, j int) bool { return ix.docSeq[order[i]] < ix.docSeq[order[j]] })
	payload, err := json.Marshal(snapshot{
		Version:  snapshotVersion,
		Index:    ix.terms,
		DocTerms: ix.docTerms,
		DocOrder: order,
	})
	ix.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal keyword snapshot: %w", err)
	}

	if err := ix.store.Save(ctx, ix.key, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("save keyword snapshot: %w", err)
	}
	return nil
}

// Load replaces the index with the stored snapshot. A missing or unreadable
// snapshot leaves the index empty and is not an error.
func (ix *Index) Load(ctx context.Context) {
	if ix.store == nil {
		return
	}

	rc, err := ix.store.Open(ctx, ix.key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			ix.logger.Warn("keyword_snapshot_load_failed", "key", ix.key, "error", err)
		}
		ix.Reset()
		return
	}
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		ix.logger.Warn("keyword_snapshot_load_failed", "key", ix.key, "error", err)
		ix.Reset()
		return
	}
	if snap.Version != snapshotVersion {
		ix.logger.Warn("keyword_snapshot_load_failed", "key", ix.key, "error", fmt.Sprintf("unsupported version %d", snap.Version))
		ix.Reset()
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked()
	ix.restoreLocked(snap)
	ix.logger.Info("keyword_snapshot_loaded", "key", ix.key, "documents", len(ix.docTerms), "terms", len(ix.terms))
}

func (ix *Index) restoreLocked(snap snapshot) {
	for _, docID := range snap.DocOrder {
		if _, ok := ix.docSeq[docID]; ok || docID == "" {
			continue
		}
		ix.docSeq[docID] = ix.nextSeq
		ix.nextSeq++
	}

	terms := make([]string, 0, len(snap.Index))
	for term := range snap.Index {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		seen := make(map[string]struct{})
		for _, p := range snap.Index[term] {
			if p.DocID == "" || p.Weight <= 0 {
				continue
			}
			if _, dup := seen[p.DocID]; dup {
				continue
			}
			seen[p.DocID] = struct{}{}
			if _, ok := ix.docSeq[p.DocID]; !ok {
				ix.docSeq[p.DocID] = ix.nextSeq
				ix.nextSeq++
			}
			ix.terms[term] = append(ix.terms[term], p)
			ix.docTerms[p.DocID] = append(ix.docTerms[p.DocID], term)
		}
	}
}
