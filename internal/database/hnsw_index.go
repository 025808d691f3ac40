package database

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"
)

// ErrIndexEmpty is returned when searching an index that holds no templates.
var ErrIndexEmpty = errors.New("index not initialized")

// HNSWIndex wraps the HNSW graph for face template search.
// The graph only ranks candidates; callers re-score them with the exact metric.
type HNSWIndex struct {
	graph      *hnsw.Graph[string]
	byIdentity map[string]*FaceTemplate
	dim        int
	mu         sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{
		byIdentity: make(map[string]*FaceTemplate),
	}
}

func newGraph(metric string) *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	if metric == "cosine" {
		g.Distance = hnsw.CosineDistance
	} else {
		g.Distance = hnsw.EuclideanDistance
	}
	return g
}

// BuildFromTemplates builds the index from a slice of templates. Templates whose
// embedding dimension differs from the first one are left out of the graph.
func (h *HNSWIndex) BuildFromTemplates(templates []FaceTemplate, metric string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.byIdentity = make(map[string]*FaceTemplate, len(templates))
	h.graph = nil
	h.dim = 0

	if len(templates) == 0 {
		return nil
	}

	g := newGraph(metric)
	for i := range templates {
		tpl := &templates[i]
		if len(tpl.Embedding) == 0 {
			continue
		}
		if h.dim == 0 {
			h.dim = len(tpl.Embedding)
		}
		if len(tpl.Embedding) != h.dim {
			continue
		}
		g.Add(hnsw.MakeNode(tpl.Identity, tpl.Embedding))
		h.byIdentity[tpl.Identity] = tpl
	}

	if len(h.byIdentity) > 0 {
		h.graph = g
	}
	return nil
}

// Search returns up to k candidate identities ordered by approximate distance.
func (h *HNSWIndex) Search(query []float32, k int) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, ErrIndexEmpty
	}
	if len(query) != h.dim {
		return nil, nil
	}

	neighbors := h.graph.Search(query, k)
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := h.byIdentity[n.Key]; ok {
			ids = append(ids, n.Key)
		}
	}
	return ids, nil
}

// Get returns the template for a given identity.
func (h *HNSWIndex) Get(identity string) *FaceTemplate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byIdentity[identity]
}

// Count returns the number of indexed templates.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byIdentity)
}

// IsEmpty returns true if the index has no graph.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}
