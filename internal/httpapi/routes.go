package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/indexcoordinator"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/purpose"
	"github.com/chirino/memory-service/internal/registry/arraycache"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	"github.com/chirino/memory-service/internal/retrieval"
	"github.com/chirino/memory-service/internal/security"
)

// Deps bundles the core engine components a handler needs. Built once in
// cmd/serve and passed to MountRoutes.
type Deps struct {
	Store       primarystore.Store
	Cache       arraycache.ArrayCache
	Coordinator *indexcoordinator.Coordinator
	Pipeline    *retrieval.Pipeline
	Discoverer  *purpose.Discoverer
	Cfg         *config.Config
}

// MountRoutes registers the array, search, purpose, and alignment API under
// /v1, gated by resolver-based API-key auth. Mirrors the teacher's
// per-domain MountRoutes(router, deps...) convention rather than the
// plugin-registry pattern reserved for backend-agnostic system routes.
func MountRoutes(r *gin.Engine, deps Deps) {
	resolver := security.NewTokenResolver(deps.Cfg)
	v1 := r.Group("/v1", security.AuthMiddleware(resolver))

	arrays := v1.Group("/arrays")
	arrays.POST("", deps.createArray)
	arrays.GET("/:id", deps.getArray)
	arrays.DELETE("/:id", deps.deleteArray)

	v1.POST("/search", deps.search)

	purposes := v1.Group("/purposes")
	purposes.GET("", deps.listPurposes)
	purposes.GET("/dominant", deps.dominantPurpose)
	purposes.POST("/discover", security.RequireAdminRole(), deps.discoverPurposes)

	v1.POST("/alignment", deps.computeAlignment)
}

func (d Deps) createArray(c *gin.Context) {
	var dto arrayDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	array, err := dto.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := array.Validate(nil); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.ingestArray(c.Request.Context(), array); err != nil {
		var partial *model.IndexPartialFailureError
		if errors.As(err, &partial) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "failed_spaces": partial.Spaces})
			return
		}
		writeStoreError(c, err)
		return
	}
	if d.Cache != nil && d.Cache.Available() {
		_ = d.Cache.Set(c.Request.Context(), array)
	}

	c.JSON(http.StatusCreated, arrayFromModel(array, true))
}

// ingestArray publishes array into the thirteen per-space indices and the
// primary store as a single unit, in the order required to avoid either
// side observing the other's half-done write: the index fan-out runs first
// but is left unresolvable via Search (Coordinator.Add reserves array's
// internal ID without publishing the reverse mapping), then the primary
// store write is committed, and only once that is durable does Publish make
// array visible to Search. If the store write fails after a successful
// index fan-out, the staged index entries are rolled back via
// Coordinator.Remove so array is never left indexed with no durable blob
// behind it, and a retry is free to use the same ID again.
func (d Deps) ingestArray(ctx context.Context, array *model.TeleologicalArray) error {
	if err := d.Coordinator.Add(ctx, array); err != nil {
		return err
	}
	if err := d.Store.Store(ctx, array); err != nil {
		_ = d.Coordinator.Remove(ctx, array.ID)
		return err
	}
	d.Coordinator.Publish(array.ID)
	return nil
}

func (d Deps) getArray(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if d.Cache != nil && d.Cache.Available() {
		if cached, err := d.Cache.Get(c.Request.Context(), id); err == nil && cached != nil {
			c.JSON(http.StatusOK, arrayFromModel(cached, true))
			return
		}
	}

	array, err := d.Store.Retrieve(c.Request.Context(), id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if array == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if d.Cache != nil && d.Cache.Available() {
		_ = d.Cache.Set(c.Request.Context(), array)
	}
	c.JSON(http.StatusOK, arrayFromModel(array, true))
}

func (d Deps) deleteArray(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := d.Store.Delete(c.Request.Context(), id); err != nil {
		writeStoreError(c, err)
		return
	}
	if err := d.Coordinator.Remove(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if d.Cache != nil && d.Cache.Available() {
		_ = d.Cache.Remove(c.Request.Context(), id)
	}
	c.Status(http.StatusNoContent)
}

type searchFilterDTO struct {
	SessionID  string     `json:"session_id,omitempty"`
	Namespace  string     `json:"namespace,omitempty"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	MinScore   float32    `json:"min_score,omitempty"`
	ExcludeIDs []string   `json:"exclude_ids,omitempty"`
}

type searchRequestDTO struct {
	Strategy string                 `json:"strategy"`
	Spaces   []string               `json:"spaces,omitempty"`
	Query    map[string]outputDTO   `json:"query"`
	TopK     int                    `json:"top_k,omitempty"`
	Fusion   string                 `json:"fusion,omitempty"`
	Filter   searchFilterDTO        `json:"filter,omitempty"`
}

type scoredHitDTO struct {
	ID       string             `json:"id"`
	Score    float32            `json:"score"`
	PerSpace map[string]float32 `json:"per_space,omitempty"`
	Array    arrayDTO           `json:"array"`
}

func (d Deps) search(c *gin.Context) {
	var req searchRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := retrieval.Query{
		Strategy: retrieval.Strategy(req.Strategy),
		TopK:     req.TopK,
		Fusion:   req.Fusion,
	}
	for name, dto := range req.Query {
		space, ok := model.ParseSpace(name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown embedding space " + name})
			return
		}
		q.Slots[space] = dto.toModel(space)
		q.Present[space] = true
	}
	for _, name := range req.Spaces {
		space, ok := model.ParseSpace(name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown embedding space " + name})
			return
		}
		q.Spaces = append(q.Spaces, space)
	}
	q.Filter = retrieval.Filter{SessionID: req.Filter.SessionID, Namespace: req.Filter.Namespace, MinScore: req.Filter.MinScore}
	if req.Filter.Start != nil {
		q.Filter.Start = *req.Filter.Start
	}
	if req.Filter.End != nil {
		q.Filter.End = *req.Filter.End
	}
	if len(req.Filter.ExcludeIDs) > 0 {
		q.Filter.ExcludedIDs = make(map[uuid.UUID]bool, len(req.Filter.ExcludeIDs))
		for _, raw := range req.Filter.ExcludeIDs {
			if id, err := uuid.Parse(raw); err == nil {
				q.Filter.ExcludedIDs[id] = true
			}
		}
	}

	hits, err := d.Pipeline.Search(c.Request.Context(), q)
	if err != nil {
		var noEntry *model.NoEntryPointsError
		if errors.As(err, &noEntry) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]scoredHitDTO, len(hits))
	for i, h := range hits {
		perSpace := make(map[string]float32, len(h.PerSpace))
		for space, score := range h.PerSpace {
			perSpace[space.String()] = score
		}
		out[i] = scoredHitDTO{ID: h.ID.String(), Score: h.Score, PerSpace: perSpace, Array: arrayFromModel(h.Array, false)}
	}
	c.JSON(http.StatusOK, gin.H{"hits": out})
}

func (d Deps) listPurposes(c *gin.Context) {
	var filter purpose.Filter
	if raw := c.Query("min_importance"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			filter.MinImportance = float32(v)
		}
	}
	if raw := c.Query("parent_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			filter.ParentID = &id
		}
	}
	purposes := d.Discoverer.ListPurposes(filter)
	out := make([]purposeDTO, len(purposes))
	for i, p := range purposes {
		out[i] = purposeFromModel(p)
	}
	c.JSON(http.StatusOK, gin.H{"purposes": out})
}

func (d Deps) dominantPurpose(c *gin.Context) {
	p, ok := d.Discoverer.GetDominantPurpose()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no purposes discovered yet"})
		return
	}
	c.JSON(http.StatusOK, purposeFromModel(p))
}

type discoverRequestDTO struct {
	SessionID string     `json:"session_id,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

func (d Deps) discoverPurposes(c *gin.Context) {
	var req discoverRequestDTO
	_ = c.ShouldBindJSON(&req)

	w := purpose.Window{SessionID: req.SessionID, Limit: req.Limit}
	if req.Start != nil {
		w.Start = *req.Start
	}
	if req.End != nil {
		w.End = *req.End
	}

	purposes, err := d.Discoverer.Discover(c.Request.Context(), w, purpose.Config{})
	if err != nil {
		var insufficient *model.InsufficientDataError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusOK, gin.H{"purposes": []purposeDTO{}, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]purposeDTO, len(purposes))
	for i, p := range purposes {
		out[i] = purposeFromModel(p)
	}
	c.JSON(http.StatusOK, gin.H{"purposes": out})
}

type alignmentRequestDTO struct {
	MemoryID  string `json:"memory_id"`
	PurposeID string `json:"purpose_id"`
}

func (d Deps) computeAlignment(c *gin.Context) {
	var req alignmentRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memoryID, err := uuid.Parse(req.MemoryID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid memory_id"})
		return
	}
	purposeID, err := uuid.Parse(req.PurposeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid purpose_id"})
		return
	}

	result, err := d.Discoverer.ComputeAlignment(c.Request.Context(), memoryID, purposeID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	perSpace := make(map[string]float32, model.NumSpaces)
	for i := 0; i < model.NumSpaces; i++ {
		perSpace[model.Space(i).String()] = result.PerSpace[i]
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregate":      result.Aggregate,
		"dominant_space": result.DominantSpace.String(),
		"coherence":      result.Coherence,
		"per_space":      perSpace,
	})
}

func writeStoreError(c *gin.Context, err error) {
	var dup *model.DuplicateIDError
	if errors.As(err, &dup) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	var invalid *model.InvalidArrayError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
