// Package flat provides an exact in-memory implementation of the vector
// index, suitable for embedded deployments and tests. Search is brute-force
// over cosine distance; collections are tracked with Roaring Bitmaps for
// cheap filter pushdown.
package flat

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/faceindex/vectorindex"
)

// Compile-time check to ensure Flat satisfies the index interface.
var _ vectorindex.Index = (*Flat)(nil)

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all upserts and queries.
	Dimension int
}

// row is one stored vector. Vectors are kept L2-normalized so cosine
// distance reduces to 1 - dot product.
type row struct {
	id     string
	vector []float32
	attrs  vectorindex.Attributes
}

// indexState holds the immutable state of the index for lock-free reads.
type indexState struct {
	rows        []*row            // nil entries are tombstones
	rowOf       map[string]uint32 // id -> row slot
	free        []uint32          // slots available for reuse
	collections map[string]*roaring.Bitmap
}

// Flat is an exact nearest-neighbor index. It uses a copy-on-write pattern
// for lock-free concurrent reads; writes are serialized.
type Flat struct {
	state     atomic.Value // holds *indexState
	writeMu   sync.Mutex
	dimension int
}

// New creates a new flat index. Dimension is required.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension: %d", opts.Dimension)
	}

	f := &Flat{dimension: opts.Dimension}
	f.state.Store(&indexState{
		rowOf:       make(map[string]uint32),
		collections: make(map[string]*roaring.Bitmap),
	})

	return f, nil
}

// Dimension returns the configured vector dimensionality.
func (f *Flat) Dimension() int { return f.dimension }

func (f *Flat) getState() *indexState {
	return f.state.Load().(*indexState)
}

func (f *Flat) cloneState(st *indexState) *indexState {
	newRows := make([]*row, len(st.rows))
	copy(newRows, st.rows)

	newRowOf := make(map[string]uint32, len(st.rowOf))
	for id, slot := range st.rowOf {
		newRowOf[id] = slot
	}

	newFree := make([]uint32, len(st.free))
	copy(newFree, st.free)

	newCollections := make(map[string]*roaring.Bitmap, len(st.collections))
	for cid, bm := range st.collections {
		newCollections[cid] = bm.Clone()
	}

	return &indexState{
		rows:        newRows,
		rowOf:       newRowOf,
		free:        newFree,
		collections: newCollections,
	}
}

// Upsert inserts or replaces the vector stored under entry.ID.
func (f *Flat) Upsert(_ context.Context, entry vectorindex.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("flat: empty id")
	}
	if len(entry.Vector) != f.dimension {
		return fmt.Errorf("flat: dimension mismatch: expected %d, got %d", f.dimension, len(entry.Vector))
	}

	normalized := normalize(entry.Vector)

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.cloneState(f.getState())

	if slot, ok := st.rowOf[entry.ID]; ok {
		old := st.rows[slot]
		if old.attrs.CollectionID != entry.Attributes.CollectionID {
			if bm, ok := st.collections[old.attrs.CollectionID]; ok {
				bm.Remove(slot)
				if bm.IsEmpty() {
					delete(st.collections, old.attrs.CollectionID)
				}
			}
			collectionBitmap(st, entry.Attributes.CollectionID).Add(slot)
		}
		st.rows[slot] = &row{id: entry.ID, vector: normalized, attrs: entry.Attributes}
		f.state.Store(st)
		return nil
	}

	var slot uint32
	if len(st.free) > 0 {
		slot = st.free[len(st.free)-1]
		st.free = st.free[:len(st.free)-1]
		st.rows[slot] = &row{id: entry.ID, vector: normalized, attrs: entry.Attributes}
	} else {
		slot = uint32(len(st.rows))
		st.rows = append(st.rows, &row{id: entry.ID, vector: normalized, attrs: entry.Attributes})
	}
	st.rowOf[entry.ID] = slot
	collectionBitmap(st, entry.Attributes.CollectionID).Add(slot)

	f.state.Store(st)
	return nil
}

// Delete removes an id from the index.
func (f *Flat) Delete(_ context.Context, id string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	cur := f.getState()
	slot, ok := cur.rowOf[id]
	if !ok {
		return vectorindex.ErrNotFound
	}

	st := f.cloneState(cur)
	old := st.rows[slot]
	st.rows[slot] = nil
	delete(st.rowOf, id)
	st.free = append(st.free, slot)
	if bm, ok := st.collections[old.attrs.CollectionID]; ok {
		bm.Remove(slot)
		if bm.IsEmpty() {
			delete(st.collections, old.attrs.CollectionID)
		}
	}

	f.state.Store(st)
	return nil
}

// Get returns the stored entry. The returned vector is the L2-normalized
// form kept by the index.
func (f *Flat) Get(_ context.Context, id string) (vectorindex.Entry, error) {
	st := f.getState()
	slot, ok := st.rowOf[id]
	if !ok {
		return vectorindex.Entry{}, vectorindex.ErrNotFound
	}

	r := st.rows[slot]
	vec := make([]float32, len(r.vector))
	copy(vec, r.vector)

	return vectorindex.Entry{ID: r.id, Vector: vec, Attributes: r.attrs}, nil
}

// KNN returns up to k matches ordered by ascending cosine distance,
// ties broken by id ascending.
func (f *Flat) KNN(_ context.Context, query []float32, k int, filter *vectorindex.Filter) ([]vectorindex.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("flat: k must be positive, got %d", k)
	}
	if len(query) != f.dimension {
		return nil, fmt.Errorf("flat: dimension mismatch: expected %d, got %d", f.dimension, len(query))
	}

	normalized := normalize(query)
	st := f.getState()

	var exclude map[string]struct{}
	if filter != nil && len(filter.ExcludeIDs) > 0 {
		exclude = make(map[string]struct{}, len(filter.ExcludeIDs))
		for _, id := range filter.ExcludeIDs {
			exclude[id] = struct{}{}
		}
	}

	h := &matchHeap{}
	heap.Init(h)

	consider := func(r *row) {
		if r == nil {
			return
		}
		if _, skip := exclude[r.id]; skip {
			return
		}

		dist := 1 - dot(normalized, r.vector)
		if h.Len() < k {
			heap.Push(h, vectorindex.Match{ID: r.id, Distance: dist, Attributes: r.attrs})
			return
		}
		worst := (*h)[0]
		if dist < worst.Distance || (dist == worst.Distance && r.id < worst.ID) {
			(*h)[0] = vectorindex.Match{ID: r.id, Distance: dist, Attributes: r.attrs}
			heap.Fix(h, 0)
		}
	}

	if filter != nil && filter.CollectionID != "" {
		bm, ok := st.collections[filter.CollectionID]
		if !ok {
			return nil, nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			consider(st.rows[it.Next()])
		}
	} else {
		for _, r := range st.rows {
			consider(r)
		}
	}

	matches := make([]vectorindex.Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		matches[i] = heap.Pop(h).(vectorindex.Match)
	}

	return matches, nil
}

// IDs returns every stored id in ascending order.
func (f *Flat) IDs(_ context.Context) ([]string, error) {
	st := f.getState()
	ids := make([]string, 0, len(st.rowOf))
	for id := range st.rowOf {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	return len(f.getState().rowOf)
}

func collectionBitmap(st *indexState, collectionID string) *roaring.Bitmap {
	bm, ok := st.collections[collectionID]
	if !ok {
		bm = roaring.New()
		st.collections[collectionID] = bm
	}
	return bm
}

// matchHeap is a max-heap over (distance, id) so the worst candidate of the
// current top-k sits at the root.
type matchHeap []vectorindex.Match

func (h matchHeap) Len() int { return len(h) }

func (h matchHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].ID > h[j].ID
}

func (h matchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *matchHeap) Push(x any) { *h = append(*h, x.(vectorindex.Match)) }

func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))

	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
