// Package purpose discovers emergent goals by clustering stored arrays: no
// caller can set, upload, or override a purpose, only read what clustering
// found. A Discoverer holds the current surviving purpose set in memory and
// replaces it atomically on a successful run; a failed run leaves the prior
// set authoritative.
package purpose

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/alignment"
	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	"github.com/chirino/memory-service/internal/security"
)

// Window selects the arrays a discovery run samples from. Exactly one
// selector is used, in this precedence order: SessionID, then
// [Start, End), then "most recent Limit arrays".
type Window struct {
	SessionID  string
	Start, End time.Time
	Limit      int
}

// Config tunes one discovery run, overriding the service-wide defaults in
// config.Config when a field is non-zero.
type Config struct {
	MinClusterSize int
	SimThreshold   float64
	Matrix         alignment.Matrix
}

// Filter narrows ListPurposes results.
type Filter struct {
	MinImportance float32
	ParentID      *uuid.UUID
}

// Discoverer clusters arrays into DiscoveredPurpose records.
type Discoverer struct {
	store primarystore.Store
	cfg   *config.Config

	mu      sync.RWMutex
	current []model.DiscoveredPurpose
}

// New creates a purpose discoverer backed by store.
func New(store primarystore.Store, cfg *config.Config) *Discoverer {
	return &Discoverer{store: store, cfg: cfg}
}

func (d *Discoverer) ids(ctx context.Context, w Window, limit int) ([]uuid.UUID, error) {
	switch {
	case w.SessionID != "":
		return d.store.ListBySession(ctx, w.SessionID, limit)
	case !w.Start.IsZero() || !w.End.IsZero():
		return d.store.ListRange(ctx, w.Start, w.End, limit)
	default:
		// ListBefore returns oldest first; keep the newest limit arrays.
		ids, err := d.store.ListBefore(ctx, time.Now(), 0)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(ids) > limit {
			ids = ids[len(ids)-limit:]
		}
		return ids, nil
	}
}

// Discover runs one clustering pass over window and, on full success,
// atomically replaces the current purpose set. A failure (including
// InsufficientDataError) leaves the prior set untouched.
func (d *Discoverer) Discover(ctx context.Context, w Window, dc Config) ([]model.DiscoveredPurpose, error) {
	minSize := dc.MinClusterSize
	if minSize <= 0 {
		minSize = d.cfg.PurposeDiscoveryMinClusterSz
	}
	simThreshold := dc.SimThreshold
	if simThreshold <= 0 {
		simThreshold = d.cfg.PurposeDiscoverySimThreshold
	}
	matrix := dc.Matrix
	if matrix == "" {
		matrix = alignment.MatrixSemanticHeavy
	}
	limit := w.Limit
	if limit <= 0 {
		limit = d.cfg.PurposeDiscoveryBatchSize
	}

	ids, err := d.ids(ctx, w, limit)
	if err != nil {
		recordOutcome("error")
		return nil, err
	}
	if len(ids) < minSize {
		recordOutcome("insufficient_data")
		return nil, &model.InsufficientDataError{Have: len(ids), Want: minSize}
	}
	arrayMap, err := d.store.RetrieveBatch(ctx, ids)
	if err != nil {
		recordOutcome("error")
		return nil, err
	}
	arrays := make([]*model.TeleologicalArray, 0, len(arrayMap))
	for _, id := range ids {
		if a := arrayMap[id]; a != nil {
			arrays = append(arrays, a)
		}
	}
	if len(arrays) < minSize {
		recordOutcome("insufficient_data")
		return nil, &model.InsufficientDataError{Have: len(arrays), Want: minSize}
	}

	sims, err := similarityMatrix(arrays, matrix)
	if err != nil {
		recordOutcome("error")
		return nil, err
	}
	clusters := clusterByThreshold(len(arrays), sims, simThreshold, minSize)

	purposes := make([]model.DiscoveredPurpose, 0, len(clusters))
	for _, cluster := range clusters {
		members := make([]*model.TeleologicalArray, len(cluster))
		for i, idx := range cluster {
			members[i] = arrays[idx]
		}
		purposes = append(purposes, buildPurpose(members, cluster, sims))
	}

	assignHierarchy(purposes)

	d.mu.Lock()
	d.current = purposes
	d.mu.Unlock()

	recordOutcome("ok")
	if security.PurposeCount != nil {
		security.PurposeCount.Set(float64(len(purposes)))
	}
	return purposes, nil
}

func recordOutcome(outcome string) {
	if security.PurposeDiscoveryRuns != nil {
		security.PurposeDiscoveryRuns.WithLabelValues(outcome).Inc()
	}
}

// ListPurposes returns the current surviving purpose set matching filter.
func (d *Discoverer) ListPurposes(f Filter) []model.DiscoveredPurpose {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.DiscoveredPurpose, 0, len(d.current))
	for _, p := range d.current {
		if p.Importance < f.MinImportance {
			continue
		}
		if f.ParentID != nil {
			if p.ParentID == nil || *p.ParentID != *f.ParentID {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// GetDominantPurpose returns the highest-importance purpose in the current
// set, if any.
func (d *Discoverer) GetDominantPurpose() (model.DiscoveredPurpose, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.current) == 0 {
		return model.DiscoveredPurpose{}, false
	}
	best := d.current[0]
	for _, p := range d.current[1:] {
		if p.Importance > best.Importance {
			best = p
		}
	}
	return best, true
}

// ComputeAlignment scores how well memoryID aligns with purposeID's centroid.
func (d *Discoverer) ComputeAlignment(ctx context.Context, memoryID, purposeID uuid.UUID) (alignment.Result, error) {
	array, err := d.store.Retrieve(ctx, memoryID)
	if err != nil {
		return alignment.Result{}, err
	}
	if array == nil {
		return alignment.Result{}, fmt.Errorf("purpose: memory %s not found", memoryID)
	}

	d.mu.RLock()
	var purpose *model.DiscoveredPurpose
	for i := range d.current {
		if d.current[i].ID == purposeID {
			purpose = &d.current[i]
			break
		}
	}
	d.mu.RUnlock()
	if purpose == nil {
		return alignment.Result{}, fmt.Errorf("purpose: %s not found", purposeID)
	}
	return alignment.CompareToCentroid(array, &purpose.Centroid, alignment.MatrixSemanticHeavy)
}

func similarityMatrix(arrays []*model.TeleologicalArray, matrix alignment.Matrix) ([][]float32, error) {
	n := len(arrays)
	sims := make([][]float32, n)
	for i := range sims {
		sims[i] = make([]float32, n)
		sims[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			res, err := alignment.Compare(arrays[i], arrays[j], matrix)
			if err != nil {
				return nil, err
			}
			sims[i][j] = res.Aggregate
			sims[j][i] = res.Aggregate
		}
	}
	return sims, nil
}

// clusterByThreshold connects any pair scoring at or above threshold and
// takes connected components as clusters, approximating density-based
// clustering without an external graph library. Components smaller than
// minSize are discarded as noise.
func clusterByThreshold(n int, sims [][]float32, threshold float64, minSize int) [][]int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if float64(sims[i][j]) >= threshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	clusters := make([][]int, 0, len(groups))
	for _, members := range groups {
		if len(members) >= minSize {
			clusters = append(clusters, members)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return len(clusters[i]) > len(clusters[j]) })
	return clusters
}

func buildPurpose(members []*model.TeleologicalArray, clusterIdx []int, sims [][]float32) model.DiscoveredPurpose {
	centroid := model.TeleologicalArray{ID: uuid.New(), CreatedAt: time.Now()}
	for _, space := range model.AllSpaces() {
		outputs := make([]model.Output, len(members))
		for i, m := range members {
			outputs[i] = m.Embeddings[space]
		}
		centroid.Embeddings[space] = centroidOutput(space, outputs)
	}

	memberIDs := make([]uuid.UUID, len(members))
	for i, m := range members {
		memberIDs[i] = m.ID
	}

	return model.DiscoveredPurpose{
		ID:           uuid.New(),
		Centroid:     centroid,
		Description:  describe(centroid),
		Importance:   importance(members),
		Coherence:    clusterCoherence(clusterIdx, sims),
		MemberIDs:    memberIDs,
		DiscoveredAt: time.Now(),
	}
}

func centroidOutput(space model.Space, outputs []model.Output) model.Output {
	attrs := model.Attributes[space]
	out := model.Output{Space: space}
	switch attrs.Kind {
	case model.KindDense:
		out.Dense = averageAndNormalize(outputs, func(o model.Output) []float32 { return o.Dense })
		if space == model.Causal {
			out.CausalTag = majorityCausalTag(outputs)
		}
	case model.KindSparseLexical:
		out.Sparse = averageSparse(outputs)
	case model.KindTokenBag:
		out.Tokens = representativeTokens(outputs)
	case model.KindBinaryHDC:
		out.HDC, out.HDCBits = majorityHDC(outputs)
	}
	return out
}

func averageAndNormalize(outputs []model.Output, get func(model.Output) []float32) []float32 {
	var dim int
	for _, o := range outputs {
		if v := get(o); len(v) > 0 {
			dim = len(v)
			break
		}
	}
	if dim == 0 {
		return nil
	}
	sum := make([]float32, dim)
	count := 0
	for _, o := range outputs {
		v := get(o)
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += x
		}
		count++
	}
	if count == 0 {
		return sum
	}
	var normSq float64
	for i := range sum {
		sum[i] /= float32(count)
		normSq += float64(sum[i]) * float64(sum[i])
	}
	if normSq > 0 {
		norm := float32(math.Sqrt(normSq))
		for i := range sum {
			sum[i] /= norm
		}
	}
	return sum
}

const sparseCentroidEpsilon = 1e-4

func averageSparse(outputs []model.Output) []model.SparseTerm {
	sums := make(map[uint32]float32)
	for _, o := range outputs {
		for _, t := range o.Sparse {
			sums[t.Index] += t.Weight
		}
	}
	n := float32(len(outputs))
	terms := make([]model.SparseTerm, 0, len(sums))
	for idx, sum := range sums {
		avg := sum / n
		if avg < sparseCentroidEpsilon {
			continue
		}
		terms = append(terms, model.SparseTerm{Index: idx, Weight: avg})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Index < terms[j].Index })
	return terms
}

// representativeTokens picks the member whose token set has the highest
// total MaxSim against every other member, rather than averaging token bags
// of differing length.
func representativeTokens(outputs []model.Output) [][]float32 {
	if len(outputs) == 0 {
		return nil
	}
	bestIdx, bestScore := 0, float32(-1)
	for i := range outputs {
		var total float32
		for j := range outputs {
			if i == j {
				continue
			}
			total += maxSim(outputs[i].Tokens, outputs[j].Tokens)
		}
		if total > bestScore {
			bestScore = total
			bestIdx = i
		}
	}
	return outputs[bestIdx].Tokens
}

func maxSim(query, doc [][]float32) float32 {
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

func cosine(a, b []float32) float32 {
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

func majorityHDC(outputs []model.Output) ([]uint64, int) {
	var bits int
	for _, o := range outputs {
		if o.HDCBits > bits {
			bits = o.HDCBits
		}
	}
	if bits == 0 {
		return nil, 0
	}
	counts := make([]int, bits)
	for _, o := range outputs {
		for i := 0; i < o.HDCBits; i++ {
			word := o.HDC[i/64]
			if (word>>uint(63-i%64))&1 == 1 {
				counts[i]++
			}
		}
	}
	words := make([]uint64, (bits+63)/64)
	majority := len(outputs)/2 + 1
	for i, c := range counts {
		if c >= majority {
			words[i/64] |= 1 << uint(63-i%64)
		}
	}
	return words, bits
}

func majorityCausalTag(outputs []model.Output) model.CausalDirection {
	var causeVotes, effectVotes int
	for _, o := range outputs {
		switch o.CausalTag {
		case model.DirectionCause:
			causeVotes++
		case model.DirectionEffect:
			effectVotes++
		}
	}
	if effectVotes > causeVotes {
		return model.DirectionEffect
	}
	return model.DirectionCause
}

// importance grows with cluster size and recent, frequent access, and decays
// with staleness.
func importance(members []*model.TeleologicalArray) float32 {
	var accessSum float64
	var newest time.Time
	for _, m := range members {
		accessSum += float64(m.Metadata.AccessCount)
		if m.Metadata.LastAccessed.After(newest) {
			newest = m.Metadata.LastAccessed
		}
	}
	sizeTerm := math.Log1p(float64(len(members)))
	accessTerm := math.Log1p(accessSum / float64(len(members)))
	recencyTerm := 1.0
	if !newest.IsZero() {
		ageDays := time.Since(newest).Hours() / 24
		recencyTerm = math.Exp(-ageDays / 30)
	}
	return float32(sizeTerm * (1 + accessTerm) * recencyTerm)
}

func clusterCoherence(clusterIdx []int, sims [][]float32) float32 {
	if len(clusterIdx) < 2 {
		return 1
	}
	var sum float32
	var count int
	for i := 0; i < len(clusterIdx); i++ {
		for j := i + 1; j < len(clusterIdx); j++ {
			sum += sims[clusterIdx[i]][clusterIdx[j]]
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return sum / float32(count)
}

// describe surfaces the top sparse terms from the centroid's SparseKeyword space
// as a short, auto-generated label. No external language model is used.
func describe(centroid model.TeleologicalArray) string {
	terms := append([]model.SparseTerm(nil), centroid.Embeddings[model.SparseKeyword].Sparse...)
	sort.Slice(terms, func(i, j int) bool { return terms[i].Weight > terms[j].Weight })
	if len(terms) > 5 {
		terms = terms[:5]
	}
	if len(terms) == 0 {
		return fmt.Sprintf("cluster centered on %s", model.Semantic)
	}
	desc := "cluster centered on terms"
	for _, t := range terms {
		desc += fmt.Sprintf(" #%d", t.Index)
	}
	return desc
}

// assignHierarchy links each purpose to the strictly larger purpose (by
// member count) whose centroid it is most aligned with, giving a coarse parent/child
// relation without a separate multi-granularity clustering pass.
func assignHierarchy(purposes []model.DiscoveredPurpose) {
	if len(purposes) < 2 {
		return
	}
	for i := range purposes {
		var bestParent *uuid.UUID
		bestSim := float32(-2)
		for j := range purposes {
			if i == j || len(purposes[j].MemberIDs) <= len(purposes[i].MemberIDs) {
				continue
			}
			res, err := alignment.Compare(&purposes[i].Centroid, &purposes[j].Centroid, alignment.MatrixSemanticHeavy)
			if err != nil {
				continue
			}
			if res.Aggregate > bestSim {
				bestSim = res.Aggregate
				id := purposes[j].ID
				bestParent = &id
			}
		}
		if bestParent != nil && bestSim > 0.5 {
			purposes[i].ParentID = bestParent
		}
	}
}
