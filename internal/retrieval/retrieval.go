// Package retrieval implements entry-point-discovery search over the
// thirteen embedding spaces: select which spaces a query can enter through,
// search each in parallel in its own geometry, fetch full arrays for the
// candidate union, optionally rescore, fuse per-space ranks into one score,
// filter, and return a deterministically tie-broken top-K.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/alignment"
	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/indexcoordinator"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/namespace"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	"github.com/chirino/memory-service/internal/security"
)

// Strategy selects how entry-point spaces are chosen.
type Strategy string

const (
	// StrategySingleSpace queries exactly one named space.
	StrategySingleSpace Strategy = "single_space"
	// StrategySpaceGroup queries a caller-supplied subset of spaces and fuses.
	StrategySpaceGroup Strategy = "space_group"
	// StrategyWeightedFull queries every space with a populated query slot.
	StrategyWeightedFull Strategy = "weighted_full"
	// StrategyAutoDiscover scores candidate spaces by query-slot norm and
	// keeps the confident ones, then proceeds as weighted-full.
	StrategyAutoDiscover Strategy = "auto_discover"
)

// minNorm is the per-space minimum signal threshold below which a query slot
// is treated as absent. Dense/HDC slots are filtered by L2 norm; sparse and
// token-bag slots by non-emptiness (checked in entryPoints directly).
const minNorm = 1e-6

// Filter narrows the candidate set after fusion.
type Filter struct {
	SessionID   string
	Namespace   string
	Start, End  time.Time
	MinScore    float32
	ExcludedIDs map[uuid.UUID]bool
}

func (f Filter) matches(array *model.TeleologicalArray, score float32) bool {
	if f.SessionID != "" && array.Metadata.SessionID != f.SessionID {
		return false
	}
	if f.Namespace != "" && !namespaceMatches(array.Metadata.Namespace, f.Namespace) {
		return false
	}
	if !f.Start.IsZero() && array.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && array.CreatedAt.After(f.End) {
		return false
	}
	if score < f.MinScore {
		return false
	}
	if f.ExcludedIDs != nil && f.ExcludedIDs[array.ID] {
		return false
	}
	return true
}

// namespaceMatches reports whether arrayNamespace falls under prefix or any
// of its descendants, comparing encoded segments (namespace.HasPrefix) so a
// prefix of "users" never matches a sibling like "users-archive".
func namespaceMatches(arrayNamespace, prefix string) bool {
	if arrayNamespace == "" {
		return false
	}
	encoded, err := namespace.Encode(strings.Split(arrayNamespace, "/"), 0)
	if err != nil {
		return false
	}
	encodedPrefix, err := namespace.Encode(strings.Split(prefix, "/"), 0)
	if err != nil {
		return false
	}
	return namespace.HasPrefix(encoded, encodedPrefix)
}

// Query is a full or partial array to search with, plus strategy parameters.
type Query struct {
	Slots    [model.NumSpaces]model.Output
	Present  [model.NumSpaces]bool
	Strategy Strategy
	// Spaces restricts entry points for StrategySingleSpace/StrategySpaceGroup.
	Spaces []model.Space
	TopK   int
	Filter Filter
	// Fusion overrides config.RetrievalDefaultFusion ("rrf" or "weighted")
	// when non-empty.
	Fusion string
}

// ScoredHit is one ranked, filtered result.
type ScoredHit struct {
	ID       uuid.UUID
	Score    float32
	PerSpace map[model.Space]float32
	Array    *model.TeleologicalArray
}

// Pipeline runs searches against the index coordinator and primary store.
type Pipeline struct {
	coordinator *indexcoordinator.Coordinator
	store       primarystore.Store
	cfg         *config.Config
}

// New creates a retrieval pipeline.
func New(coordinator *indexcoordinator.Coordinator, store primarystore.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{coordinator: coordinator, store: store, cfg: cfg}
}

type entryPoint struct {
	Space  model.Space
	Output model.Output
	Weight float32
}

// entryPoints implements §4.5 stage 1: enumerate candidate spaces, drop
// absent/below-threshold slots, assign a confidence weight.
func (p *Pipeline) entryPoints(q Query) []entryPoint {
	var candidates []model.Space
	switch q.Strategy {
	case StrategySingleSpace, StrategySpaceGroup:
		candidates = q.Spaces
	default:
		all := model.AllSpaces()
		candidates = all[:]
	}

	points := make([]entryPoint, 0, len(candidates))
	for _, space := range candidates {
		if !q.Present[space] {
			continue
		}
		out := q.Slots[space]
		norm, ok := slotNorm(space, out)
		if !ok || norm < minNorm {
			continue
		}
		weight := float32(1)
		if q.Strategy == StrategyAutoDiscover {
			weight = norm
		}
		points = append(points, entryPoint{Space: space, Output: out, Weight: weight})
	}
	return points
}

func slotNorm(space model.Space, out model.Output) (float32, bool) {
	switch model.Attributes[space].Kind {
	case model.KindDense:
		return l2Norm(out.Dense), len(out.Dense) > 0
	case model.KindBinaryHDC:
		if out.HDCBits == 0 {
			return 0, false
		}
		return float32(out.HDCBits), true
	case model.KindSparseLexical:
		if len(out.Sparse) == 0 {
			return 0, false
		}
		var sum float32
		for _, t := range out.Sparse {
			sum += t.Weight * t.Weight
		}
		return sum, true
	case model.KindTokenBag:
		if len(out.Tokens) == 0 {
			return 0, false
		}
		return float32(len(out.Tokens)), true
	default:
		return 0, false
	}
}

func l2Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return 0
	}
	return float32(math.Sqrt(float64(sum)))
}

type spaceResult struct {
	space   model.Space
	weight  float32
	matches []indexcoordinator.Match
}

// Search runs the full pipeline and returns a deterministically ordered,
// filtered top-K.
func (p *Pipeline) Search(ctx context.Context, q Query) ([]ScoredHit, error) {
	start := time.Now()
	defer func() {
		if security.RetrievalLatency != nil {
			security.RetrievalLatency.WithLabelValues(string(q.Strategy)).Observe(time.Since(start).Seconds())
		}
	}()

	points := p.entryPoints(q)
	if len(points) == 0 {
		return nil, &model.NoEntryPointsError{}
	}

	topK := q.TopK
	if topK <= 0 {
		topK = p.cfg.RetrievalDefaultTopK
	}
	kExpand := topK * 4
	if p.cfg.RetrievalMaxCandidatesSpan > 0 && kExpand > p.cfg.RetrievalMaxCandidatesSpan {
		kExpand = p.cfg.RetrievalMaxCandidatesSpan
	}

	results := p.searchSpaces(ctx, points, kExpand)
	if len(results) == 0 {
		return nil, nil
	}

	union := make(map[uuid.UUID]struct{})
	for _, r := range results {
		for _, m := range r.matches {
			union[m.ID] = struct{}{}
		}
	}
	ids := make([]uuid.UUID, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	arrays, err := p.store.RetrieveBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(ids) <= 50 {
		p.rescore(results, points, arrays)
	}

	fusion := q.Fusion
	if fusion == "" {
		fusion = p.cfg.RetrievalDefaultFusion
	}
	scores, perSpace := fuse(results, fusion, p.cfg.RetrievalRRFConstant)

	hits := make([]ScoredHit, 0, len(scores))
	for id, score := range scores {
		array := arrays[id]
		if array == nil {
			continue
		}
		if !q.Filter.matches(array, score) {
			continue
		}
		hits = append(hits, ScoredHit{ID: id, Score: score, PerSpace: perSpace[id], Array: array})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Array.CreatedAt.Equal(hits[j].Array.CreatedAt) {
			return hits[i].Array.CreatedAt.After(hits[j].Array.CreatedAt)
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// searchSpaces runs each entry point's search in parallel, each under its
// own timeout budget. A failed or timed-out space contributes no ranks and
// logs an operational warning rather than aborting the whole search.
func (p *Pipeline) searchSpaces(ctx context.Context, points []entryPoint, kExpand int) []spaceResult {
	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make([]spaceResult, 0, len(points))

	for _, pt := range points {
		pt := pt
		wg.Add(1)
		go func() {
			defer wg.Done()
			spaceCtx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalSpaceTimeout)
			defer cancel()

			matches, err := p.coordinator.Search(spaceCtx, pt.Space, pt.Output, kExpand)
			if err != nil {
				log.Warn("retrieval: per-space search failed, dropping space", "space", pt.Space, "err", err)
				if security.RetrievalSpacesDroppedTotal != nil {
					security.RetrievalSpacesDroppedTotal.WithLabelValues(pt.Space.String()).Inc()
				}
				return
			}
			mu.Lock()
			results = append(results, spaceResult{space: pt.Space, weight: pt.Weight, matches: matches})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// rescore recomputes each space's similarity directly against the fetched
// full array, correcting for any quantization-induced error in the index's
// approximate score.
func (p *Pipeline) rescore(results []spaceResult, points []entryPoint, arrays map[uuid.UUID]*model.TeleologicalArray) {
	queryBySpace := make(map[model.Space]model.Output, len(points))
	for _, pt := range points {
		queryBySpace[pt.Space] = pt.Output
	}
	for i := range results {
		query := queryBySpace[results[i].space]
		for j, m := range results[i].matches {
			array := arrays[m.ID]
			if array == nil {
				continue
			}
			results[i].matches[j].Score = alignment.Similarity(results[i].space, query, array.Embeddings[results[i].space])
		}
	}
}

// fuse combines per-space rankings into one score per candidate, per §4.5
// stage 5. "rrf" (default) is rank-based and needs no score calibration;
// "weighted" min-max normalizes each space's raw scores across its own
// candidate set before summing, since no cross-request calibration
// statistics are persisted.
func fuse(results []spaceResult, fusion string, rrfK float64) (map[uuid.UUID]float32, map[uuid.UUID]map[model.Space]float32) {
	scores := make(map[uuid.UUID]float32)
	perSpace := make(map[uuid.UUID]map[model.Space]float32)

	recordPerSpace := func(id uuid.UUID, space model.Space, raw float32) {
		m, ok := perSpace[id]
		if !ok {
			m = make(map[model.Space]float32)
			perSpace[id] = m
		}
		m[space] = raw
	}

	for _, r := range results {
		sorted := append([]indexcoordinator.Match(nil), r.matches...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

		switch fusion {
		case "weighted":
			minS, maxS := float32(0), float32(0)
			for i, m := range sorted {
				if i == 0 || m.Score < minS {
					minS = m.Score
				}
				if i == 0 || m.Score > maxS {
					maxS = m.Score
				}
			}
			span := maxS - minS
			for _, m := range sorted {
				norm := float32(1)
				if span > 0 {
					norm = (m.Score - minS) / span
				}
				scores[m.ID] += r.weight * norm
				recordPerSpace(m.ID, r.space, m.Score)
			}
		default: // "rrf"
			for rank, m := range sorted {
				scores[m.ID] += r.weight / float32(rrfK+float64(rank)+1)
				recordPerSpace(m.ID, r.space, m.Score)
			}
		}
	}
	return scores, perSpace
}
