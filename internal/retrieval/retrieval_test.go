package retrieval

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/indexcoordinator"
	"github.com/chirino/memory-service/internal/lateindex"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/sparseindex"
)

// fakeDenseIndex scores by plain dot product, highest first, matching how a
// cosine-style ANN backend ranks when its stored vectors are pre-normalized.
type fakeDenseIndex struct {
	vectors map[model.Space]map[uint64][]float32
}

func newFakeDenseIndex() *fakeDenseIndex {
	return &fakeDenseIndex{vectors: map[model.Space]map[uint64][]float32{}}
}

func (f *fakeDenseIndex) EnsureSpace(ctx context.Context, space model.Space) error { return nil }

func (f *fakeDenseIndex) Add(ctx context.Context, space model.Space, internalID uint64, vector []float32) error {
	bucket, ok := f.vectors[space]
	if !ok {
		bucket = map[uint64][]float32{}
		f.vectors[space] = bucket
	}
	bucket[internalID] = vector
	return nil
}

func (f *fakeDenseIndex) Remove(ctx context.Context, space model.Space, internalID uint64) error {
	delete(f.vectors[space], internalID)
	return nil
}

func (f *fakeDenseIndex) Search(ctx context.Context, space model.Space, query []float32, topK int) ([]denseindex.Match, error) {
	var matches []denseindex.Match
	for id, v := range f.vectors[space] {
		var dot float32
		for i := range query {
			if i < len(v) {
				dot += query[i] * v[i]
			}
		}
		matches = append(matches, denseindex.Match{InternalID: id, Score: dot})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (f *fakeDenseIndex) Close() error { return nil }

// fakeStore is a minimal in-memory primarystore.Store covering only
// RetrieveBatch, which is all the retrieval pipeline calls.
type fakeStore struct {
	arrays map[uuid.UUID]*model.TeleologicalArray
}

func newFakeStore() *fakeStore { return &fakeStore{arrays: map[uuid.UUID]*model.TeleologicalArray{}} }

func (f *fakeStore) Store(ctx context.Context, a *model.TeleologicalArray) error {
	f.arrays[a.ID] = a
	return nil
}
func (f *fakeStore) StoreBatch(ctx context.Context, as []*model.TeleologicalArray) error {
	for _, a := range as {
		f.arrays[a.ID] = a
	}
	return nil
}
func (f *fakeStore) Retrieve(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error) {
	return f.arrays[id], nil
}
func (f *fakeStore) RetrieveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.TeleologicalArray, error) {
	out := make(map[uuid.UUID]*model.TeleologicalArray, len(ids))
	for _, id := range ids {
		if a, ok := f.arrays[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}
func (f *fakeStore) Delete(ctx context.Context, id uuid.UUID) error { delete(f.arrays, id); return nil }
func (f *fakeStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) ListByTier(ctx context.Context, tier model.ServingTier, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) ListBefore(ctx context.Context, ts time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) ListRange(ctx context.Context, start, end time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStore) MigrateTier(ctx context.Context, id uuid.UUID, tier model.ServingTier) error {
	return nil
}
func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

func denseArray(id uuid.UUID, semanticVec []float32, sessionID string, createdAt time.Time) *model.TeleologicalArray {
	a := &model.TeleologicalArray{ID: id, CreatedAt: createdAt, Metadata: model.MetadataRecord{SessionID: sessionID}}
	for i := 0; i < model.NumSpaces; i++ {
		s := model.Space(i)
		attrs := model.Attributes[s]
		switch attrs.Kind {
		case model.KindDense:
			vec := make([]float32, attrs.Dimension)
			if s == model.Semantic {
				copy(vec, semanticVec)
			}
			o := model.Output{Space: s, Dense: vec}
			if s == model.Causal {
				o.CausalTag = model.DirectionCause
			}
			a.Embeddings[i] = o
		case model.KindSparseLexical:
			a.Embeddings[i] = model.Output{Space: s, Sparse: []model.SparseTerm{{Index: 0, Weight: 1}}}
		case model.KindTokenBag:
			a.Embeddings[i] = model.Output{Space: s, Tokens: [][]float32{make([]float32, attrs.Dimension)}}
		case model.KindBinaryHDC:
			words := (attrs.Dimension + 63) / 64
			a.Embeddings[i] = model.Output{Space: s, HDC: make([]uint64, words), HDCBits: attrs.Dimension}
		}
	}
	return a
}

func setup(t *testing.T) (*Pipeline, *fakeDenseIndex, *fakeStore, *indexcoordinator.Coordinator) {
	t.Helper()
	dense := newFakeDenseIndex()
	sparse := sparseindex.New()
	late := map[model.Space]*lateindex.Index{
		model.LateInteraction: lateindex.New(model.Attributes[model.LateInteraction].Dimension),
	}
	coord := indexcoordinator.New(dense, sparse, late)
	store := newFakeStore()
	cfg := config.DefaultConfig()
	pipeline := New(coord, store, &cfg)
	return pipeline, dense, store, coord
}

// presentSemanticQuery pads vec to the Semantic space's full width so the
// rescore stage's exact cosine compares vectors of equal length.
func presentSemanticQuery(vec []float32) Query {
	full := make([]float32, model.Attributes[model.Semantic].Dimension)
	copy(full, vec)
	var q Query
	q.Slots[model.Semantic] = model.Output{Space: model.Semantic, Dense: full}
	q.Present[model.Semantic] = true
	q.Strategy = StrategySingleSpace
	q.Spaces = []model.Space{model.Semantic}
	return q
}

func TestPipeline_Search_NoEntryPointsErrorsWhenQueryEmpty(t *testing.T) {
	pipeline, _, _, _ := setup(t)
	var q Query
	q.Strategy = StrategyWeightedFull

	_, err := pipeline.Search(context.Background(), q)
	require.Error(t, err)
	var noEntry *model.NoEntryPointsError
	require.ErrorAs(t, err, &noEntry)
}

func TestPipeline_Search_FindsClosestMatch(t *testing.T) {
	pipeline, _, store, coord := setup(t)
	ctx := context.Background()

	closeID := uuid.New()
	farID := uuid.New()
	store.Store(ctx, denseArray(closeID, []float32{1, 0, 0}, "", time.Now()))
	store.Store(ctx, denseArray(farID, []float32{0, 1, 0}, "", time.Now()))
	require.NoError(t, coord.Add(ctx, store.arrays[closeID]))
	require.NoError(t, coord.Add(ctx, store.arrays[farID]))
	coord.Publish(closeID)
	coord.Publish(farID)

	q := presentSemanticQuery([]float32{1, 0, 0})
	q.TopK = 5

	hits, err := pipeline.Search(ctx, q)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, closeID, hits[0].ID)
}

func TestPipeline_Search_AppliesSessionFilter(t *testing.T) {
	pipeline, _, store, coord := setup(t)
	ctx := context.Background()

	matchID := uuid.New()
	otherID := uuid.New()
	store.Store(ctx, denseArray(matchID, []float32{1, 0, 0}, "session-a", time.Now()))
	store.Store(ctx, denseArray(otherID, []float32{1, 0, 0}, "session-b", time.Now()))
	require.NoError(t, coord.Add(ctx, store.arrays[matchID]))
	require.NoError(t, coord.Add(ctx, store.arrays[otherID]))
	coord.Publish(matchID)
	coord.Publish(otherID)

	q := presentSemanticQuery([]float32{1, 0, 0})
	q.TopK = 5
	q.Filter = Filter{SessionID: "session-a"}

	hits, err := pipeline.Search(ctx, q)
	require.NoError(t, err)
	for _, h := range hits {
		require.Equal(t, matchID, h.ID)
	}
}

func TestPipeline_Search_RespectsTopK(t *testing.T) {
	pipeline, _, store, coord := setup(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := uuid.New()
		a := denseArray(id, []float32{1, 0, 0}, "", time.Now())
		store.Store(ctx, a)
		require.NoError(t, coord.Add(ctx, a))
		coord.Publish(id)
	}

	q := presentSemanticQuery([]float32{1, 0, 0})
	q.TopK = 3

	hits, err := pipeline.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, hits, 3)
}

func TestPipeline_Search_ExcludedIDsAreFilteredOut(t *testing.T) {
	pipeline, _, store, coord := setup(t)
	ctx := context.Background()

	excludedID := uuid.New()
	keptID := uuid.New()
	store.Store(ctx, denseArray(excludedID, []float32{1, 0, 0}, "", time.Now()))
	store.Store(ctx, denseArray(keptID, []float32{1, 0, 0}, "", time.Now()))
	require.NoError(t, coord.Add(ctx, store.arrays[excludedID]))
	require.NoError(t, coord.Add(ctx, store.arrays[keptID]))
	coord.Publish(excludedID)
	coord.Publish(keptID)

	q := presentSemanticQuery([]float32{1, 0, 0})
	q.TopK = 10
	q.Filter = Filter{ExcludedIDs: map[uuid.UUID]bool{excludedID: true}}

	hits, err := pipeline.Search(ctx, q)
	require.NoError(t, err)
	for _, h := range hits {
		require.NotEqual(t, excludedID, h.ID)
	}
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now()
	array := &model.TeleologicalArray{
		ID:        uuid.New(),
		CreatedAt: now,
		Metadata:  model.MetadataRecord{SessionID: "s1", Namespace: "ns1"},
	}

	require.True(t, Filter{}.matches(array, 1))
	require.False(t, Filter{SessionID: "other"}.matches(array, 1))
	require.False(t, Filter{Namespace: "other"}.matches(array, 1))
	require.False(t, Filter{MinScore: 2}.matches(array, 1))
	require.False(t, Filter{Start: now.Add(time.Hour)}.matches(array, 1))
	require.False(t, Filter{End: now.Add(-time.Hour)}.matches(array, 1))
	require.False(t, Filter{ExcludedIDs: map[uuid.UUID]bool{array.ID: true}}.matches(array, 1))
}

func TestFuse_RRFAccumulatesAcrossSpaces(t *testing.T) {
	id := uuid.New()
	results := []spaceResult{
		{space: model.Semantic, weight: 1, matches: []indexcoordinator.Match{{ID: id, Score: 0.9}}},
		{space: model.Code, weight: 1, matches: []indexcoordinator.Match{{ID: id, Score: 0.8}}},
	}
	scores, perSpace := fuse(results, "rrf", 60)
	require.Greater(t, scores[id], float32(0))
	require.Len(t, perSpace[id], 2)
}

func TestFuse_WeightedNormalizesPerSpace(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	results := []spaceResult{
		{space: model.Semantic, weight: 1, matches: []indexcoordinator.Match{
			{ID: a, Score: 10},
			{ID: b, Score: 0},
		}},
	}
	scores, _ := fuse(results, "weighted", 60)
	require.InDelta(t, 1.0, scores[a], 1e-5)
	require.InDelta(t, 0.0, scores[b], 1e-5)
}

func TestSlotNorm_DenseEmptyIsAbsent(t *testing.T) {
	_, ok := slotNorm(model.Semantic, model.Output{})
	require.False(t, ok)
}

func TestSlotNorm_SparseNonEmptyIsPresent(t *testing.T) {
	norm, ok := slotNorm(model.SparseKeyword, model.Output{Sparse: []model.SparseTerm{{Index: 0, Weight: 2}}})
	require.True(t, ok)
	require.Greater(t, norm, float32(0))
}
