package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutput_Validate_DenseSuccess(t *testing.T) {
	o := Output{Space: Semantic, Dense: make([]float32, Attributes[Semantic].Dimension)}
	require.NoError(t, o.Validate(0))
}

func TestOutput_Validate_DenseEmptyRejected(t *testing.T) {
	o := Output{Space: Semantic}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_DenseLengthMismatchRejected(t *testing.T) {
	o := Output{Space: Semantic, Dense: make([]float32, 3)}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_DenseUsesOverrideDimension(t *testing.T) {
	o := Output{Space: Semantic, Dense: make([]float32, 5)}
	require.NoError(t, o.Validate(5))
	require.Error(t, o.Validate(6))
}

func TestOutput_Validate_CausalRequiresDirectionTag(t *testing.T) {
	base := Output{Space: Causal, Dense: make([]float32, Attributes[Causal].Dimension)}

	untagged := base
	require.Error(t, untagged.Validate(0))

	cause := base
	cause.CausalTag = DirectionCause
	require.NoError(t, cause.Validate(0))

	effect := base
	effect.CausalTag = DirectionEffect
	require.NoError(t, effect.Validate(0))
}

func TestOutput_Validate_SparseSuccess(t *testing.T) {
	o := Output{
		Space: SparseKeyword,
		Sparse: []SparseTerm{
			{Index: 1, Weight: 0.5},
			{Index: 7, Weight: 0.1},
		},
	}
	require.NoError(t, o.Validate(0))
}

func TestOutput_Validate_SparseEmptyRejected(t *testing.T) {
	o := Output{Space: SparseKeyword}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_SparseUnsortedRejected(t *testing.T) {
	o := Output{
		Space: SparseKeyword,
		Sparse: []SparseTerm{
			{Index: 5, Weight: 0.5},
			{Index: 2, Weight: 0.1},
		},
	}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_SparseDuplicateIndexRejected(t *testing.T) {
	o := Output{
		Space: SparseKeyword,
		Sparse: []SparseTerm{
			{Index: 5, Weight: 0.5},
			{Index: 5, Weight: 0.1},
		},
	}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_TokenBagSuccess(t *testing.T) {
	o := Output{
		Space: LateInteraction,
		Tokens: [][]float32{
			{0.1, 0.2},
			{0.3, 0.4},
		},
	}
	require.NoError(t, o.Validate(0))
}

func TestOutput_Validate_TokenBagEmptyRejected(t *testing.T) {
	o := Output{Space: LateInteraction}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_TokenBagInconsistentWidthsRejected(t *testing.T) {
	o := Output{
		Space: LateInteraction,
		Tokens: [][]float32{
			{0.1, 0.2},
			{0.3},
		},
	}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_TokenBagZeroWidthRejected(t *testing.T) {
	o := Output{Space: LateInteraction, Tokens: [][]float32{{}}}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_HDCSuccess(t *testing.T) {
	o := Output{Space: HDC, HDC: []uint64{0xFFFFFFFFFFFFFFFF, 0x1}, HDCBits: 65}
	require.NoError(t, o.Validate(0))
}

func TestOutput_Validate_HDCEmptyRejected(t *testing.T) {
	o := Output{Space: HDC}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_HDCWordCountMismatchRejected(t *testing.T) {
	o := Output{Space: HDC, HDC: []uint64{0x1}, HDCBits: 128}
	require.Error(t, o.Validate(0))
}

func TestOutput_Validate_OutOfRangeSpaceRejected(t *testing.T) {
	o := Output{Space: Space(NumSpaces + 1)}
	require.Error(t, o.Validate(0))
}

func TestOutput_HDCBipolar_UnpacksMSBFirst(t *testing.T) {
	// 0xC0...0 = 1100000... in binary: bits 0 and 1 set, rest clear.
	o := Output{HDC: []uint64{0xC000000000000000}, HDCBits: 4}
	bipolar := o.HDCBipolar()
	require.Equal(t, []float32{1, 1, -1, -1}, bipolar)
}

func TestOutput_HDCBipolar_SpansMultipleWords(t *testing.T) {
	// first word all zero, second word's top bit set -> bit 64 is set.
	o := Output{HDC: []uint64{0x0, 0x8000000000000000}, HDCBits: 65}
	bipolar := o.HDCBipolar()
	require.Len(t, bipolar, 65)
	for i := 0; i < 64; i++ {
		require.Equal(t, float32(-1), bipolar[i], "bit %d should be clear", i)
	}
	require.Equal(t, float32(1), bipolar[64])
}
