package alignment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/memory-service/internal/model"
)

func TestWeights_UniformGivesEveryoneWeightOne(t *testing.T) {
	w, err := Weights(MatrixUniform)
	require.NoError(t, err)
	for _, s := range model.AllSpaces() {
		require.Equal(t, float32(1), w[s])
	}
}

func TestWeights_SemanticHeavyFavorsNamedSpaces(t *testing.T) {
	w, err := Weights(MatrixSemanticHeavy)
	require.NoError(t, err)
	require.Equal(t, float32(3), w[model.Semantic])
	require.Equal(t, float32(2), w[model.Causal])
	require.Equal(t, float32(2), w[model.Code])
	require.Equal(t, float32(1), w[model.Graph])
}

func TestWeights_UnknownMatrixErrors(t *testing.T) {
	_, err := Weights(Matrix("not_a_matrix"))
	require.Error(t, err)
}

func TestSimilarity_Cosine_IdenticalVectorsScoreOne(t *testing.T) {
	v := model.Output{Dense: []float32{1, 2, 3}}
	require.InDelta(t, 1.0, Similarity(model.Semantic, v, v), 1e-5)
}

func TestSimilarity_Cosine_OrthogonalVectorsScoreZero(t *testing.T) {
	a := model.Output{Dense: []float32{1, 0}}
	b := model.Output{Dense: []float32{0, 1}}
	require.Equal(t, float32(0), Similarity(model.Semantic, a, b))
}

func TestSimilarity_AsymmetricCosine_AgreeingTagsStayPositive(t *testing.T) {
	a := model.Output{Dense: []float32{1, 0}, CausalTag: model.DirectionCause}
	b := model.Output{Dense: []float32{1, 0}, CausalTag: model.DirectionCause}
	require.InDelta(t, 1.0, Similarity(model.Causal, a, b), 1e-5)
}

func TestSimilarity_AsymmetricCosine_DisagreeingTagsBoost(t *testing.T) {
	a := model.Output{Dense: []float32{1, 0}, CausalTag: model.DirectionCause}
	b := model.Output{Dense: []float32{1, 0}, CausalTag: model.DirectionEffect}
	require.InDelta(t, 1.15, Similarity(model.Causal, a, b), 1e-5)
}

func TestSimilarity_SparseDot_ScoresOverlappingTerms(t *testing.T) {
	a := model.Output{Sparse: []model.SparseTerm{{Index: 1, Weight: 1}, {Index: 3, Weight: 2}}}
	b := model.Output{Sparse: []model.SparseTerm{{Index: 1, Weight: 1}, {Index: 2, Weight: 5}}}
	require.Greater(t, Similarity(model.SparseKeyword, a, b), float32(0))
}

func TestSimilarity_SparseDot_NoOverlapScoresZero(t *testing.T) {
	a := model.Output{Sparse: []model.SparseTerm{{Index: 1, Weight: 1}}}
	b := model.Output{Sparse: []model.SparseTerm{{Index: 2, Weight: 1}}}
	require.Equal(t, float32(0), Similarity(model.SparseKeyword, a, b))
}

func TestSimilarity_MaxSim_SelfIdentityIsOne(t *testing.T) {
	tokens := model.Output{Tokens: [][]float32{{1, 0}, {0, 1}}}
	require.InDelta(t, 1.0, Similarity(model.LateInteraction, tokens, tokens), 1e-5)
}

func TestSimilarity_Hamming_IdenticalBitsScoreOne(t *testing.T) {
	o := model.Output{HDC: []uint64{0xF0F0F0F0F0F0F0F0}, HDCBits: 64}
	require.InDelta(t, 1.0, Similarity(model.HDC, o, o), 1e-5)
}

func TestSimilarity_Hamming_MismatchedBitLengthScoresZero(t *testing.T) {
	a := model.Output{HDC: []uint64{0x1}, HDCBits: 4}
	b := model.Output{HDC: []uint64{0x1}, HDCBits: 8}
	require.Equal(t, float32(0), Similarity(model.HDC, a, b))
}

func fullArrayWith(id func() [model.NumSpaces]model.Output) *model.TeleologicalArray {
	var a model.TeleologicalArray
	a.Embeddings = id()
	return &a
}

func identicalFullArray() [model.NumSpaces]model.Output {
	var out [model.NumSpaces]model.Output
	for i := 0; i < model.NumSpaces; i++ {
		s := model.Space(i)
		attrs := model.Attributes[s]
		switch attrs.Kind {
		case model.KindDense:
			o := model.Output{Space: s, Dense: []float32{1, 0, 0}}
			if s == model.Causal {
				o.CausalTag = model.DirectionCause
			}
			out[i] = o
		case model.KindSparseLexical:
			out[i] = model.Output{Space: s, Sparse: []model.SparseTerm{{Index: 0, Weight: 1}}}
		case model.KindTokenBag:
			out[i] = model.Output{Space: s, Tokens: [][]float32{{1, 0}}}
		case model.KindBinaryHDC:
			out[i] = model.Output{Space: s, HDC: []uint64{0xFF00FF00FF00FF00}, HDCBits: 64}
		}
	}
	return out
}

func TestCompare_IdenticalArraysScoreMaximalAggregateAndCoherence(t *testing.T) {
	a := fullArrayWith(identicalFullArray)
	b := fullArrayWith(identicalFullArray)

	result, err := Compare(a, b, MatrixUniform)
	require.NoError(t, err)
	require.InDelta(t, 1.0, result.Aggregate, 1e-4)
	for _, s := range model.AllSpaces() {
		require.InDelta(t, 1.0, result.PerSpace[s], 1e-4, "space %s", s)
	}
	require.Greater(t, result.Coherence, float32(0))
}

func TestCompare_UnknownMatrixPropagatesError(t *testing.T) {
	a := fullArrayWith(identicalFullArray)
	_, err := Compare(a, a, Matrix("bogus"))
	require.Error(t, err)
}

func TestCompareToCentroid_DelegatesToCompare(t *testing.T) {
	a := fullArrayWith(identicalFullArray)
	centroid := fullArrayWith(identicalFullArray)

	direct, err := Compare(a, centroid, MatrixUniform)
	require.NoError(t, err)

	viaCentroid, err := CompareToCentroid(a, centroid, MatrixUniform)
	require.NoError(t, err)
	require.Equal(t, direct, viaCentroid)
}
