// Package sparseindex is the in-process inverted posting list index backing
// the two sparse-lexical spaces (SparseExpansion, SparseKeyword). No
// third-party library models an in-process sparse posting list more directly
// than a plain Go map of term index to postings, so this component is
// deliberately stdlib-only; see DESIGN.md for the justification.
package sparseindex

import (
	"context"
	"sort"
	"sync"

	"github.com/chirino/memory-service/internal/model"
)

// Match is one ranked result from a sparse-space search.
type Match struct {
	InternalID uint64
	Score      float32
}

type posting struct {
	internalID uint64
	weight     float32
}

// Index is a per-space inverted posting list over sparse term vectors,
// scored by dot product (MetricSparseDot).
type Index struct {
	mu       sync.RWMutex
	postings map[model.Space]map[uint32][]posting
	// docs tracks which terms a document currently occupies so Remove can
	// find and excise every posting without a full scan.
	docs map[model.Space]map[uint64][]uint32
}

// New creates an empty sparse index.
func New() *Index {
	return &Index{
		postings: make(map[model.Space]map[uint32][]posting),
		docs:     make(map[model.Space]map[uint64][]uint32),
	}
}

func (idx *Index) Add(ctx context.Context, space model.Space, internalID uint64, terms []model.SparseTerm) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(space, internalID)

	list, ok := idx.postings[space]
	if !ok {
		list = make(map[uint32][]posting)
		idx.postings[space] = list
	}
	docTerms, ok := idx.docs[space]
	if !ok {
		docTerms = make(map[uint64][]uint32)
		idx.docs[space] = docTerms
	}

	indices := make([]uint32, 0, len(terms))
	for _, t := range terms {
		list[t.Index] = append(list[t.Index], posting{internalID: internalID, weight: t.Weight})
		indices = append(indices, t.Index)
	}
	docTerms[internalID] = indices
	return nil
}

func (idx *Index) Remove(ctx context.Context, space model.Space, internalID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(space, internalID)
	return nil
}

func (idx *Index) removeLocked(space model.Space, internalID uint64) {
	docTerms, ok := idx.docs[space]
	if !ok {
		return
	}
	indices, ok := docTerms[internalID]
	if !ok {
		return
	}
	list := idx.postings[space]
	for _, termIdx := range indices {
		postings := list[termIdx]
		for i, p := range postings {
			if p.internalID == internalID {
				postings = append(postings[:i], postings[i+1:]...)
				break
			}
		}
		if len(postings) == 0 {
			delete(list, termIdx)
		} else {
			list[termIdx] = postings
		}
	}
	delete(docTerms, internalID)
}

func (idx *Index) Search(ctx context.Context, space model.Space, query []model.SparseTerm, topK int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	list, ok := idx.postings[space]
	if !ok {
		return nil, nil
	}
	scores := make(map[uint64]float32)
	for _, t := range query {
		for _, p := range list[t.Index] {
			scores[p.internalID] += p.weight * t.Weight
		}
	}
	matches := make([]Match, 0, len(scores))
	for id, score := range scores {
		matches = append(matches, Match{InternalID: id, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (idx *Index) Close() error { return nil }
