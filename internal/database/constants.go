package database

// HNSW index parameters for face templates.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 64

	// HNSWSearchCandidates is how many neighbors are requested per query so the
	// exact re-ranking can correct small approximation errors.
	HNSWSearchCandidates = 4
)

// Template status values reported by the remote authority.
const (
	TemplateStatusActive   = "active"
	TemplateStatusInactive = "inactive"
)
