package model

import (
	"time"

	"github.com/google/uuid"
)

// TeleologicalArray is the atomic unit of storage, retrieval, and comparison:
// an immutable thirteen-slot record where slot i must carry an Output tagged
// with Space(i). The thirteen embeddings are never edited in place after
// creation; only Metadata (tier, access counters, salience) is mutable.
type TeleologicalArray struct {
	ID           uuid.UUID
	Embeddings   [NumSpaces]Output
	SourceDigest []byte // optional, for deduplication
	CreatedAt    time.Time
	Metadata     MetadataRecord
}

// Validate enforces invariant 1: all thirteen slots present with correct
// space tags and shapes. dimensions, when non-nil, supplies the authoritative
// per-space dimension reported by the embedder that produced each slot
// (falls back to the Attributes table default when absent).
func (a *TeleologicalArray) Validate(dimensions map[Space]int) error {
	if a.ID == uuid.Nil {
		return &InvalidArrayError{Reason: "array has no id"}
	}
	for i := 0; i < NumSpaces; i++ {
		slot := a.Embeddings[i]
		if slot.Space != Space(i) {
			return &InvalidArrayError{Reason: "slot " + Space(i).String() + " carries mismatched space tag " + slot.Space.String()}
		}
		dim := 0
		if dimensions != nil {
			dim = dimensions[Space(i)]
		}
		if err := slot.Validate(dim); err != nil {
			return err
		}
	}
	return nil
}

// Slot returns the Output stored for the given space.
func (a *TeleologicalArray) Slot(s Space) Output {
	return a.Embeddings[s]
}
