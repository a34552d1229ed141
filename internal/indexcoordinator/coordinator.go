// Package indexcoordinator fans a teleological array out to its thirteen
// per-space indices atomically: either every space accepts the write, or
// every space that did succeed is rolled back and the caller sees a single
// partial-failure error. It also owns the bijective mapping between an
// array's external UUID and the internal uint64 IDs the per-space indices
// address vectors by.
package indexcoordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chirino/memory-service/internal/lateindex"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/security"
	"github.com/chirino/memory-service/internal/sparseindex"
)

// Match is one ranked result from a per-space search, already resolved back
// to the array's external UUID.
type Match struct {
	ID    uuid.UUID
	Score float32
}

// Coordinator fans writes and reads across the dense, sparse, and
// late-interaction indices that back the thirteen embedding spaces.
type Coordinator struct {
	dense  denseindex.Index
	sparse *sparseindex.Index
	late   map[model.Space]*lateindex.Index

	mu     sync.RWMutex
	toID   map[uuid.UUID]uint64
	toUUID map[uint64]uuid.UUID
	nextID uint64
}

// New creates a coordinator over the given per-kind index backends. late
// supplies one lateindex.Index per KindTokenBag space (today, only
// LateInteraction).
func New(dense denseindex.Index, sparse *sparseindex.Index, late map[model.Space]*lateindex.Index) *Coordinator {
	return &Coordinator{
		dense:  dense,
		sparse: sparse,
		late:   late,
		toID:   make(map[uuid.UUID]uint64),
		toUUID: make(map[uint64]uuid.UUID),
	}
}

// reserveID assigns (or reuses) id's internal ID and records the forward
// mapping needed to address per-space index writes, but deliberately leaves
// the reverse uuid mapping unset — id stays unresolvable via LookupUUID (and
// therefore invisible to Search) until publish is called for it.
func (c *Coordinator) reserveID(id uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if internalID, ok := c.toID[id]; ok {
		return internalID
	}
	c.nextID++
	internalID := c.nextID
	c.toID[id] = internalID
	return internalID
}

// publish completes the reverse mapping for an already-reserved id, making
// it resolvable via LookupUUID/Search.
func (c *Coordinator) publish(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if internalID, ok := c.toID[id]; ok {
		c.toUUID[internalID] = id
	}
}

// InternalID returns the internal ID for id, assigning and publishing one
// immediately if this is the first time id has been seen. Unlike Add, this
// does not stage any per-space index writes.
func (c *Coordinator) InternalID(id uuid.UUID) uint64 {
	internalID := c.reserveID(id)
	c.publish(id)
	return internalID
}

// Publish makes id resolvable by Search, completing the reverse mapping Add
// reserved when it wrote id's vectors into every per-space index. Call this
// only after id's own durable write (the primary store commit) has
// succeeded, so a reader can never observe id via Search before its
// primary-store write is durable. A no-op if id was never reserved.
func (c *Coordinator) Publish(id uuid.UUID) {
	c.publish(id)
}

// LookupID returns the internal ID already assigned to id, if any.
func (c *Coordinator) LookupID(id uuid.UUID) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	internalID, ok := c.toID[id]
	return internalID, ok
}

// LookupUUID resolves an internal ID back to its external UUID.
func (c *Coordinator) LookupUUID(internalID uint64) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.toUUID[internalID]
	return id, ok
}

func (c *Coordinator) forgetID(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if internalID, ok := c.toID[id]; ok {
		delete(c.toID, id)
		delete(c.toUUID, internalID)
	}
}

// Add fans array into every one of its thirteen per-space indices in
// parallel and reserves array's internal ID, but deliberately leaves it
// unpublished: array's vectors exist in every index on return, yet Search
// cannot resolve them back to array.ID until the caller invokes Publish.
// This lets a caller interleave its own durable write (typically the
// primary store commit) between Add and Publish, so a reader can never
// observe array via Search before that write is durable. On partial
// failure, every space that did succeed is rolled back (its entry removed)
// and the reserved internal ID is released before returning
// IndexPartialFailureError, so the indices never observe array as present
// in some spaces and absent in others, and no ID lingers for a write that
// never completed.
func (c *Coordinator) Add(ctx context.Context, array *model.TeleologicalArray) error {
	start := time.Now()
	defer func() {
		if security.IndexFanoutLatency != nil {
			security.IndexFanoutLatency.WithLabelValues("add").Observe(time.Since(start).Seconds())
		}
	}()

	internalID := c.reserveID(array.ID)

	var mu sync.Mutex
	var succeeded []model.Space
	var failedSpaces []model.Space
	var causes []error

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < model.NumSpaces; i++ {
		space := model.Space(i)
		output := array.Embeddings[space]
		g.Go(func() error {
			err := c.addOne(gctx, space, internalID, output)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failedSpaces = append(failedSpaces, space)
				causes = append(causes, err)
			} else {
				succeeded = append(succeeded, space)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failedSpaces) == 0 {
		return nil
	}

	for _, space := range succeeded {
		if rbErr := c.removeOne(ctx, space, internalID); rbErr != nil {
			causes = append(causes, fmt.Errorf("rollback %s: %w", space, rbErr))
		}
	}
	c.forgetID(array.ID)
	if security.IndexPartialFailuresTotal != nil {
		security.IndexPartialFailuresTotal.Inc()
	}
	return &model.IndexPartialFailureError{Spaces: failedSpaces, Causes: causes}
}

func (c *Coordinator) addOne(ctx context.Context, space model.Space, internalID uint64, output model.Output) error {
	switch model.Attributes[space].Kind {
	case model.KindDense:
		return c.dense.Add(ctx, space, internalID, output.Dense)
	case model.KindBinaryHDC:
		return c.dense.Add(ctx, space, internalID, output.HDCBipolar())
	case model.KindSparseLexical:
		return c.sparse.Add(ctx, space, internalID, output.Sparse)
	case model.KindTokenBag:
		idx, ok := c.late[space]
		if !ok {
			return fmt.Errorf("no late-interaction index configured for space %s", space)
		}
		return idx.Add(ctx, internalID, output.Tokens)
	default:
		return fmt.Errorf("unknown vector kind for space %s", space)
	}
}

func (c *Coordinator) removeOne(ctx context.Context, space model.Space, internalID uint64) error {
	switch model.Attributes[space].Kind {
	case model.KindDense, model.KindBinaryHDC:
		return c.dense.Remove(ctx, space, internalID)
	case model.KindSparseLexical:
		return c.sparse.Remove(ctx, space, internalID)
	case model.KindTokenBag:
		idx, ok := c.late[space]
		if !ok {
			return nil
		}
		return idx.Remove(ctx, internalID)
	default:
		return nil
	}
}

// Remove fans the removal of id out to every per-space index and forgets its
// internal ID. Best-effort across spaces: every space is attempted even if
// an earlier one failed, and the first error (if any) is returned after all
// have been attempted.
func (c *Coordinator) Remove(ctx context.Context, id uuid.UUID) error {
	internalID, ok := c.LookupID(id)
	if !ok {
		return nil
	}

	var firstErr error
	for i := 0; i < model.NumSpaces; i++ {
		if err := c.removeOne(ctx, model.Space(i), internalID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.forgetID(id)
	return firstErr
}

// Search runs a nearest-neighbor search in a single space and resolves the
// results back to external UUIDs, dropping any internal ID this coordinator
// has no reverse mapping for (already deleted or from another process).
func (c *Coordinator) Search(ctx context.Context, space model.Space, query model.Output, topK int) ([]Match, error) {
	var raw []rawMatch
	var err error

	switch model.Attributes[space].Kind {
	case model.KindDense:
		raw, err = denseMatches(c.dense.Search(ctx, space, query.Dense, topK))
	case model.KindBinaryHDC:
		raw, err = denseMatches(c.dense.Search(ctx, space, query.HDCBipolar(), topK))
	case model.KindSparseLexical:
		raw, err = sparseMatches(c.sparse.Search(ctx, space, query.Sparse, topK))
	case model.KindTokenBag:
		idx, ok := c.late[space]
		if !ok {
			return nil, fmt.Errorf("no late-interaction index configured for space %s", space)
		}
		raw, err = lateMatches(idx.Search(ctx, query.Tokens, topK))
	default:
		return nil, fmt.Errorf("unknown vector kind for space %s", space)
	}
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(raw))
	for _, m := range raw {
		id, ok := c.LookupUUID(m.InternalID)
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: id, Score: m.Score})
	}
	return matches, nil
}

type rawMatch struct {
	InternalID uint64
	Score      float32
}

func denseMatches(in []denseindex.Match, err error) ([]rawMatch, error) {
	out := make([]rawMatch, len(in))
	for i, m := range in {
		out[i] = rawMatch{InternalID: m.InternalID, Score: m.Score}
	}
	return out, err
}

func sparseMatches(in []sparseindex.Match, err error) ([]rawMatch, error) {
	out := make([]rawMatch, len(in))
	for i, m := range in {
		out[i] = rawMatch{InternalID: m.InternalID, Score: m.Score}
	}
	return out, err
}

func lateMatches(in []lateindex.Match, err error) ([]rawMatch, error) {
	out := make([]rawMatch, len(in))
	for i, m := range in {
		out[i] = rawMatch{InternalID: m.InternalID, Score: m.Score}
	}
	return out, err
}
