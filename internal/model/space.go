// Package model defines the teleological array data model: the thirteen
// embedding spaces, embedder outputs, the array itself, metadata, and
// discovered purposes.
package model

import "fmt"

// Space identifies one of the thirteen embedding spaces. Every embedder
// output and every per-space index is tagged with exactly one Space.
type Space int

const (
	Semantic Space = iota
	TemporalRecent
	TemporalPeriodic
	TemporalPositional
	Causal
	SparseExpansion
	Code
	Graph
	HDC
	Multimodal
	Entity
	LateInteraction
	SparseKeyword

	// NumSpaces is the fixed number of embedding spaces in the array.
	NumSpaces = 13
)

// String returns the canonical name used in logs, metrics labels, and the
// codec manifest.
func (s Space) String() string {
	if int(s) < 0 || int(s) >= len(spaceNames) {
		return fmt.Sprintf("Space(%d)", int(s))
	}
	return spaceNames[s]
}

var spaceNames = [NumSpaces]string{
	Semantic:            "semantic",
	TemporalRecent:      "temporal_recent",
	TemporalPeriodic:    "temporal_periodic",
	TemporalPositional:  "temporal_positional",
	Causal:              "causal",
	SparseExpansion:     "sparse_expansion",
	Code:                "code",
	Graph:                "graph",
	HDC:                 "hdc",
	Multimodal:          "multimodal",
	Entity:              "entity",
	LateInteraction:     "late_interaction",
	SparseKeyword:       "sparse_keyword",
}

// AllSpaces returns every space in manifest order.
func AllSpaces() [NumSpaces]Space {
	var all [NumSpaces]Space
	for i := range all {
		all[i] = Space(i)
	}
	return all
}

// VectorKind describes the shape of a space's embedder output.
type VectorKind int

const (
	// KindDense is a fixed-length float32 vector.
	KindDense VectorKind = iota
	// KindSparseLexical is a sorted list of (index, weight) pairs over a
	// fixed vocabulary size.
	KindSparseLexical
	// KindTokenBag is a sequence of per-token dense vectors (late interaction).
	KindTokenBag
	// KindBinaryHDC is a packed bit-vector.
	KindBinaryHDC
)

// DistanceMetric names the similarity function a space's index uses.
type DistanceMetric int

const (
	MetricCosine DistanceMetric = iota
	MetricAsymmetricCosine
	MetricMaxSim
	MetricSparseDot
	MetricHamming
)

// ServingTier hints at how aggressively a dense space's vectors are
// quantized in storage.
type ServingTier int

const (
	TierHot ServingTier = iota
	TierWarm
	TierCold
)

// SpaceAttributes are the fixed, compile-time-known properties of a space:
// its vector kind, dimensionality (or vocabulary size for sparse kinds),
// distance metric, and default serving tier.
type SpaceAttributes struct {
	Kind       VectorKind
	Dimension  int // dense length, sparse vocab size, or token-vector width
	Metric     DistanceMetric
	DefaultTier ServingTier
}

// Attributes is the closed table of fixed per-space attributes. Dimensions
// are representative defaults for the reference embedders. Validate accepts
// per-space dimension overrides, but codec.Encode validates with none, so an
// encoded array's dense slots must match the dimensions in this table.
var Attributes = [NumSpaces]SpaceAttributes{
	Semantic:           {Kind: KindDense, Dimension: 768, Metric: MetricCosine, DefaultTier: TierHot},
	TemporalRecent:     {Kind: KindDense, Dimension: 384, Metric: MetricCosine, DefaultTier: TierHot},
	TemporalPeriodic:   {Kind: KindDense, Dimension: 384, Metric: MetricCosine, DefaultTier: TierWarm},
	TemporalPositional: {Kind: KindDense, Dimension: 384, Metric: MetricCosine, DefaultTier: TierWarm},
	Causal:             {Kind: KindDense, Dimension: 768, Metric: MetricAsymmetricCosine, DefaultTier: TierHot},
	SparseExpansion:    {Kind: KindSparseLexical, Dimension: 30522, Metric: MetricSparseDot, DefaultTier: TierWarm},
	Code:               {Kind: KindDense, Dimension: 1024, Metric: MetricCosine, DefaultTier: TierHot},
	Graph:              {Kind: KindDense, Dimension: 512, Metric: MetricCosine, DefaultTier: TierWarm},
	HDC:                {Kind: KindBinaryHDC, Dimension: 10000, Metric: MetricHamming, DefaultTier: TierCold},
	Multimodal:         {Kind: KindDense, Dimension: 1536, Metric: MetricCosine, DefaultTier: TierWarm},
	Entity:             {Kind: KindDense, Dimension: 384, Metric: MetricCosine, DefaultTier: TierWarm},
	LateInteraction:    {Kind: KindTokenBag, Dimension: 128, Metric: MetricMaxSim, DefaultTier: TierCold},
	SparseKeyword:      {Kind: KindSparseLexical, Dimension: 262144, Metric: MetricSparseDot, DefaultTier: TierWarm},
}

// ParseSpace resolves a canonical space name (as produced by String) back to
// a Space. Returns false if name is not recognized.
func ParseSpace(name string) (Space, bool) {
	for i, n := range spaceNames {
		if n == name {
			return Space(i), true
		}
	}
	return 0, false
}
