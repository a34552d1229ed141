// Package alignment computes per-space and aggregate similarity between two
// teleological arrays, or between an array and a discovered purpose's
// centroid. Every per-space comparison stays inside that space's own metric;
// nothing here ever compares a vector from one space against another.
package alignment

import (
	"fmt"
	"math"
	"sort"

	"github.com/chirino/memory-service/internal/model"
)

// Matrix names a closed set of aggregate weighting schemes. Every matrix is
// diagonal or near-diagonal over the thirteen spaces: off-diagonal
// cross-space terms are always zero.
type Matrix string

const (
	// MatrixUniform weighs every space equally.
	MatrixUniform Matrix = "uniform"
	// MatrixSemanticHeavy favors Semantic, Causal, and Code, the three spaces
	// the purpose discoverer's default clustering strategy favors.
	MatrixSemanticHeavy Matrix = "semantic_heavy"
	// MatrixTemporalHeavy favors the three temporal spaces.
	MatrixTemporalHeavy Matrix = "temporal_heavy"
)

var matrixWeights = map[Matrix]map[model.Space]float32{
	MatrixUniform: uniformWeights(),
	MatrixSemanticHeavy: {
		model.Semantic: 3, model.Causal: 2, model.Code: 2,
	},
	MatrixTemporalHeavy: {
		model.TemporalRecent: 2, model.TemporalPeriodic: 2, model.TemporalPositional: 2,
	},
}

func uniformWeights() map[model.Space]float32 {
	w := make(map[model.Space]float32, model.NumSpaces)
	for _, s := range model.AllSpaces() {
		w[s] = 1
	}
	return w
}

// Weights returns the named matrix's per-space weights. Spaces absent from a
// named matrix's table implicitly weigh 1 (uniform) except for
// MatrixSemanticHeavy/MatrixTemporalHeavy, whose unnamed spaces weigh 1 as a
// light background term so the favored spaces dominate without zeroing the
// rest out entirely.
func Weights(m Matrix) (map[model.Space]float32, error) {
	table, ok := matrixWeights[m]
	if !ok {
		return nil, fmt.Errorf("alignment: unknown weighting matrix %q", m)
	}
	out := uniformWeights()
	for s, w := range table {
		out[s] = w
	}
	return out, nil
}

// Result is the outcome of comparing two arrays.
type Result struct {
	Aggregate     float32
	PerSpace      [model.NumSpaces]float32
	DominantSpace model.Space
	Coherence     float32
}

// Compare computes per-space similarity between a and b in every one of the
// thirteen spaces, then aggregates with the named weighting matrix.
func Compare(a, b *model.TeleologicalArray, m Matrix) (Result, error) {
	weights, err := Weights(m)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var weightedSum, weightSum float32
	best := float32(-2)

	for _, space := range model.AllSpaces() {
		sim := Similarity(space, a.Embeddings[space], b.Embeddings[space])
		result.PerSpace[space] = sim
		if sim > best {
			best = sim
			result.DominantSpace = space
		}
		w := weights[space]
		weightedSum += w * sim
		weightSum += w
	}
	if weightSum > 0 {
		result.Aggregate = weightedSum / weightSum
	}
	result.Coherence = coherence(result.PerSpace[:])
	return result, nil
}

// CompareToCentroid is Compare specialized for scoring an array against a
// discovered purpose's centroid, used by the external alignment API's
// compute_alignment(memory_id, purpose_id) operation.
func CompareToCentroid(a *model.TeleologicalArray, centroid *model.TeleologicalArray, m Matrix) (Result, error) {
	return Compare(a, centroid, m)
}

// Similarity dispatches to the metric declared for space in model.Attributes,
// and is the sole place a raw vector comparison happens. Exported so the
// retrieval pipeline's optional per-space rescore stage can reuse the exact
// same per-space geometry the alignment calculator uses.
func Similarity(space model.Space, a, b model.Output) float32 {
	attrs := model.Attributes[space]
	switch attrs.Metric {
	case model.MetricCosine:
		return cosine(a.Dense, b.Dense)
	case model.MetricAsymmetricCosine:
		return asymmetricCosine(a, b)
	case model.MetricSparseDot:
		return sparseDot(a.Sparse, b.Sparse)
	case model.MetricMaxSim:
		return normalizedMaxSim(a.Tokens, b.Tokens)
	case model.MetricHamming:
		return hammingCosine(a, b)
	default:
		return 0
	}
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
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

// causalOppositeBoost scales the Causal cosine of a pair whose direction
// tags disagree (a cause-facing side compared with an effect-facing one).
const causalOppositeBoost = 1.15

// asymmetricCosine scores Causal pairs by plain cosine, multiplied by
// causalOppositeBoost when both sides are tagged and the tags disagree;
// matching or missing tags leave the cosine unscaled.
func asymmetricCosine(a, b model.Output) float32 {
	sim := cosine(a.Dense, b.Dense)
	if a.CausalTag != 0 && b.CausalTag != 0 && a.CausalTag != b.CausalTag {
		return sim * causalOppositeBoost
	}
	return sim
}

func sparseDot(a, b []model.SparseTerm) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Index == b[j].Index:
			dot += float64(a[i].Weight) * float64(b[j].Weight)
			i++
			j++
		case a[i].Index < b[j].Index:
			i++
		default:
			j++
		}
	}
	for _, t := range a {
		na += float64(t.Weight) * float64(t.Weight)
	}
	for _, t := range b {
		nb += float64(t.Weight) * float64(t.Weight)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// normalizedMaxSim computes symmetric MaxSim (query-to-doc averaged with
// doc-to-query) normalized by token count, so self-identity holds exactly:
// comparing a token bag to itself always scores 1.0.
func normalizedMaxSim(a, b [][]float32) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	forward := maxSimSum(a, b) / float32(len(a))
	backward := maxSimSum(b, a) / float32(len(b))
	return (forward + backward) / 2
}

func maxSimSum(query, doc [][]float32) float32 {
	var total float32
	for _, q := range query {
		best := float32(-1)
		for _, d := range doc {
			if s := cosine(q, d); s > best {
				best = s
			}
		}
		total += best
	}
	return total
}

// hammingCosine scores two HDC outputs by the cosine-equivalent of their
// bipolar unpacking, per model.Output.HDCBipolar's documented identity
// between cosine similarity and Hamming distance for bipolar vectors.
func hammingCosine(a, b model.Output) float32 {
	if a.HDCBits == 0 || b.HDCBits == 0 || a.HDCBits != b.HDCBits {
		return 0
	}
	return cosine(a.HDCBipolar(), b.HDCBipolar())
}

// coherence summarizes per-space agreement as the mean pairwise closeness of
// the per-space scores to their own mean — high when every space agrees the
// pair is similar (or dissimilar) and low when spaces disagree sharply.
func coherence(perSpace []float32) float32 {
	if len(perSpace) == 0 {
		return 0
	}
	sorted := append([]float32(nil), perSpace...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var mean float32
	for _, v := range sorted {
		mean += v
	}
	mean /= float32(len(sorted))

	var variance float32
	for _, v := range sorted {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(sorted))

	return float32(1) / (1 + variance)
}
