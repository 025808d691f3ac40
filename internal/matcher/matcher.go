// Package matcher identifies a probe embedding against the enrolled templates
// using a ladder of tolerances.
package matcher

import (
	"fmt"
	"math"
	"slices"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facestore"
)

// Match is an accepted identification.
type Match struct {
	Identity    string  `json:"identity"`
	DisplayName string  `json:"display_name,omitempty"`
	Distance    float64 `json:"distance"`
	Tolerance   float64 `json:"tolerance"`
	Confidence  float64 `json:"confidence"`
}

// Matcher resolves probes against the current store snapshot.
type Matcher struct {
	store      *facestore.Store
	finder     Finder
	tolerances []float64 // ascending, tightest first
}

// New creates a matcher. Tolerances are tried tightest first; an empty list
// falls back to the customary 0.6.
func New(store *facestore.Store, finder Finder, tolerances []float64) (*Matcher, error) {
	if store == nil || finder == nil {
		return nil, fmt.Errorf("matcher needs a store and a finder")
	}
	ladder := slices.Clone(tolerances)
	if len(ladder) == 0 {
		ladder = []float64{constants.DefaultTolerance}
	}
	for _, tol := range ladder {
		if tol <= 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
			return nil, fmt.Errorf("invalid tolerance %v", tol)
		}
	}
	slices.Sort(ladder)
	ladder = slices.Compact(ladder)
	return &Matcher{store: store, finder: finder, tolerances: ladder}, nil
}

// NewFromConfig builds the finder and ladder from recognition settings.
func NewFromConfig(store *facestore.Store, cfg config.RecognitionConfig) (*Matcher, error) {
	distance, err := database.DistanceByName(cfg.Metric)
	if err != nil {
		return nil, err
	}
	var finder Finder
	switch cfg.Finder {
	case "", "linear":
		finder = NewLinearFinder(distance)
	case "hnsw":
		finder = NewHNSWFinder(cfg.Metric, distance)
	default:
		return nil, fmt.Errorf("unknown finder %q", cfg.Finder)
	}
	return New(store, finder, cfg.Tolerances)
}

// Tolerances returns the ladder, tightest first.
func (m *Matcher) Tolerances() []float64 {
	return slices.Clone(m.tolerances)
}

// FinderName names the nearest-candidate strategy in use.
func (m *Matcher) FinderName() string {
	return m.finder.Name()
}

// Identify returns the nearest identity if it falls within any tolerance of
// the ladder. The reported tolerance is the tightest one the match satisfies.
func (m *Matcher) Identify(probe []float32) (Match, bool) {
	snap := m.store.Snapshot()
	if snap.Len() == 0 || len(probe) == 0 {
		return Match{}, false
	}
	cand, ok := m.finder.Nearest(snap, probe)
	if !ok {
		return Match{}, false
	}
	for _, tol := range m.tolerances {
		if cand.Distance <= tol {
			return m.match(cand, tol), true
		}
	}
	return Match{}, false
}

// IdentifyAt accepts the nearest identity only within a single tolerance.
func (m *Matcher) IdentifyAt(probe []float32, tolerance float64) (Match, bool) {
	snap := m.store.Snapshot()
	if snap.Len() == 0 || len(probe) == 0 {
		return Match{}, false
	}
	cand, ok := m.finder.Nearest(snap, probe)
	if !ok || cand.Distance > tolerance {
		return Match{}, false
	}
	return m.match(cand, tolerance), true
}

func (m *Matcher) match(cand Candidate, tol float64) Match {
	loosest := m.tolerances[len(m.tolerances)-1]
	confidence := 1 - cand.Distance/loosest
	return Match{
		Identity:    cand.Template.Identity,
		DisplayName: cand.Template.DisplayName,
		Distance:    cand.Distance,
		Tolerance:   tol,
		Confidence:  max(0, min(1, confidence)),
	}
}
