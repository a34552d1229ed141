package model

import "fmt"

// Error kinds per the core's error taxonomy. Each kind is its own struct type
// so callers can distinguish them with errors.As rather than string matching,
// grounded on the teacher's internal/registry/store/errors.go typed-error style.

// InvalidArrayError covers a missing slot, a mismatched space tag, a shape or
// kind disagreement, or a zero-norm vector where the space requires
// normalization. Never retried — it indicates a caller bug.
type InvalidArrayError struct {
	Reason string
}

func (e *InvalidArrayError) Error() string { return fmt.Sprintf("invalid array: %s", e.Reason) }

// DuplicateIDError is returned when store() is called with a UUID already
// present (and not tombstoned). Never retried silently.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string { return fmt.Sprintf("duplicate id %s", e.ID) }

// CodecErrorKind distinguishes the two fatal decode failures the array codec
// can raise.
type CodecErrorKind int

const (
	// CodecVersionMismatch fires when the blob's version byte differs from
	// the current codec version — no silent upgrade.
	CodecVersionMismatch CodecErrorKind = iota
	// CodecSlotMismatch fires when a slot's tag or kind disagrees with the
	// registered space.
	CodecSlotMismatch
)

// CodecError wraps a fatal array-codec failure. The core never half-
// deserializes: every CodecError aborts the operation entirely.
type CodecError struct {
	Kind   CodecErrorKind
	Detail string
}

func (e *CodecError) Error() string {
	switch e.Kind {
	case CodecVersionMismatch:
		return fmt.Sprintf("codec: version mismatch: %s", e.Detail)
	case CodecSlotMismatch:
		return fmt.Sprintf("codec: slot mismatch: %s", e.Detail)
	default:
		return fmt.Sprintf("codec: %s", e.Detail)
	}
}

// IndexPartialFailureError is returned by the index coordinator when one or
// more per-space indices rejected an add during fan-out. The coordinator has
// already rolled back every index that did succeed.
type IndexPartialFailureError struct {
	Spaces []Space
	Causes []error
}

func (e *IndexPartialFailureError) Error() string {
	return fmt.Sprintf("index: partial failure in %d space(s): %v", len(e.Spaces), e.Spaces)
}

// StorageBackendError wraps an underlying KV/SQL/driver error. Surfaced as-is
// to the caller; the core does not retry at its layer.
type StorageBackendError struct {
	Op  string
	Err error
}

func (e *StorageBackendError) Error() string { return fmt.Sprintf("storage backend (%s): %v", e.Op, e.Err) }
func (e *StorageBackendError) Unwrap() error { return e.Err }

// NoEntryPointsError is returned by the retrieval pipeline when every
// candidate space was dropped by entry-point selection (no usable query
// slots).
type NoEntryPointsError struct{}

func (e *NoEntryPointsError) Error() string { return "retrieval: no entry points selected" }

// InsufficientDataError is returned by the purpose discoverer when its window
// has fewer arrays than the configured minimum. Not a failure: callers should
// treat it as "no purposes yet."
type InsufficientDataError struct {
	Have, Want int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("purpose discovery: insufficient data (have %d, need %d)", e.Have, e.Want)
}

// NotImplementedError is returned for a requested feature unsupported by the
// running configuration. Fail fast; never degrade silently.
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string { return fmt.Sprintf("not implemented: %s", e.Feature) }
