package matcher

import (
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facestore"
)

// Candidate is the nearest template found for a probe.
type Candidate struct {
	Template *database.FaceTemplate
	Distance float64
}

// Finder locates the nearest template in a snapshot.
type Finder interface {
	Nearest(snap *facestore.Snapshot, probe []float32) (Candidate, bool)
	Name() string
}

// LinearFinder scans every template. Sites enroll tens to hundreds of people,
// so a full scan stays well below frame time.
type LinearFinder struct {
	Distance database.DistanceFunc
}

// NewLinearFinder returns a linear finder using distance.
func NewLinearFinder(distance database.DistanceFunc) *LinearFinder {
	return &LinearFinder{Distance: distance}
}

// Name identifies the finder in status output.
func (f *LinearFinder) Name() string { return "linear" }

// Nearest returns the template with the smallest distance to probe.
func (f *LinearFinder) Nearest(snap *facestore.Snapshot, probe []float32) (Candidate, bool) {
	best := Candidate{Distance: database.MaxDistance}
	for t := range snap.All() {
		d := f.Distance(probe, t.Embedding)
		if d < best.Distance {
			best = Candidate{Template: t, Distance: d}
		}
	}
	return best, best.Template != nil
}

// HNSWFinder asks the snapshot's HNSW graph for a few candidates and re-scores
// them with the exact metric.
type HNSWFinder struct {
	Metric   string
	Distance database.DistanceFunc
}

// NewHNSWFinder returns an indexed finder for the named metric.
func NewHNSWFinder(metric string, distance database.DistanceFunc) *HNSWFinder {
	return &HNSWFinder{Metric: metric, Distance: distance}
}

// Name identifies the finder in status output.
func (f *HNSWFinder) Name() string { return "hnsw" }

// Nearest returns the best re-scored candidate from the index.
func (f *HNSWFinder) Nearest(snap *facestore.Snapshot, probe []float32) (Candidate, bool) {
	idx := snap.HNSW(f.Metric)
	ids, err := idx.Search(probe, database.HNSWSearchCandidates)
	if err != nil || len(ids) == 0 {
		return Candidate{}, false
	}
	best := Candidate{Distance: database.MaxDistance}
	for _, id := range ids {
		t := idx.Get(id)
		if t == nil {
			continue
		}
		if d := f.Distance(probe, t.Embedding); d < best.Distance {
			best = Candidate{Template: t, Distance: d}
		}
	}
	return best, best.Template != nil
}
