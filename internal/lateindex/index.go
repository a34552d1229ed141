// Package lateindex is the in-process two-level index backing the
// LateInteraction space's per-token embeddings. No ecosystem library offers
// a MaxSim index over token bags out of the box, so this is deliberately
// stdlib-only: a coarse random-hyperplane LSH bucket over each document's
// mean-pooled token vector narrows the candidate set, then exact MaxSim
// reranks survivors. See DESIGN.md for the justification.
package lateindex

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Match is one ranked result from a LateInteraction search.
type Match struct {
	InternalID uint64
	Score      float32
}

const numHyperplanes = 12

type document struct {
	tokens [][]float32
	bucket uint16
}

// Index holds per-token embeddings for every indexed document and a coarse
// LSH bucket map for candidate narrowing.
type Index struct {
	mu          sync.RWMutex
	dim         int
	hyperplanes [][]float32
	docs        map[uint64]document
	buckets     map[uint16][]uint64
}

// New creates an empty late-interaction index for token vectors of the given
// width, with deterministically seeded random hyperplanes so bucket
// assignment is reproducible across process restarts given the same corpus.
func New(dim int) *Index {
	r := rand.New(rand.NewSource(int64(dim) + 0x5bd1e995))
	planes := make([][]float32, numHyperplanes)
	for i := range planes {
		plane := make([]float32, dim)
		for j := range plane {
			plane[j] = float32(r.NormFloat64())
		}
		planes[i] = plane
	}
	return &Index{
		dim:         dim,
		hyperplanes: planes,
		docs:        make(map[uint64]document),
		buckets:     make(map[uint16][]uint64),
	}
}

func meanPool(tokens [][]float32, dim int) []float32 {
	mean := make([]float32, dim)
	for _, tok := range tokens {
		for i, v := range tok {
			mean[i] += v
		}
	}
	n := float32(len(tokens))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

func (idx *Index) bucketOf(vec []float32) uint16 {
	var b uint16
	for i, plane := range idx.hyperplanes {
		var dot float32
		for j, v := range vec {
			dot += v * plane[j]
		}
		if dot > 0 {
			b |= 1 << uint(i)
		}
	}
	return b
}

func (idx *Index) Add(ctx context.Context, internalID uint64, tokens [][]float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(internalID)

	bucket := idx.bucketOf(meanPool(tokens, idx.dim))
	idx.docs[internalID] = document{tokens: tokens, bucket: bucket}
	idx.buckets[bucket] = append(idx.buckets[bucket], internalID)
	return nil
}

func (idx *Index) Remove(ctx context.Context, internalID uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(internalID)
	return nil
}

func (idx *Index) removeLocked(internalID uint64) {
	doc, ok := idx.docs[internalID]
	if !ok {
		return
	}
	ids := idx.buckets[doc.bucket]
	for i, id := range ids {
		if id == internalID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(idx.buckets, doc.bucket)
	} else {
		idx.buckets[doc.bucket] = ids
	}
	delete(idx.docs, internalID)
}

// maxSim computes the MaxSim score between a query token bag and a document
// token bag: for each query token, the best cosine match among the
// document's tokens, summed.
func maxSim(query, doc [][]float32) float32 {
	var total float32
	for _, q := range query {
		var best float32 = -1
		for _, d := range doc {
			if s := cosine(q, d); s > best {
				best = s
			}
		}
		total += best
	}
	return total
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Search narrows candidates to documents sharing (or within one bit of) the
// query's coarse bucket, then reranks them by exact MaxSim.
func (idx *Index) Search(ctx context.Context, query [][]float32, topK int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryBucket := idx.bucketOf(meanPool(query, idx.dim))
	candidates := make(map[uint64]struct{})
	for bucket, ids := range idx.buckets {
		if popcount16(bucket^queryBucket) <= 1 {
			for _, id := range ids {
				candidates[id] = struct{}{}
			}
		}
	}

	matches := make([]Match, 0, len(candidates))
	for id := range candidates {
		doc := idx.docs[id]
		matches = append(matches, Match{InternalID: id, Score: maxSim(query, doc.tokens)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func popcount16(v uint16) int {
	count := 0
	for v != 0 {
		count += int(v & 1)
		v >>= 1
	}
	return count
}

func (idx *Index) Close() error { return nil }
