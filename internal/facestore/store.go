// Package facestore holds the in-memory set of enrolled face templates.
//
// Readers take an immutable Snapshot; writers build a new one and swap the
// pointer, so a matcher never sees a partially replaced set.
package facestore

import (
	"iter"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// Snapshot is an immutable view of the template set.
type Snapshot struct {
	templates []database.FaceTemplate // sorted by identity
	index     map[string]int
	loadedAt  time.Time
	version   uint64

	hnswOnce   sync.Once
	hnswIndex  *database.HNSWIndex
	hnswMetric string
}

func newSnapshot(templates []database.FaceTemplate, loadedAt time.Time, version uint64) *Snapshot {
	sort.Slice(templates, func(i, j int) bool { return templates[i].Identity < templates[j].Identity })
	index := make(map[string]int, len(templates))
	for i := range templates {
		index[templates[i].Identity] = i
	}
	return &Snapshot{templates: templates, index: index, loadedAt: loadedAt, version: version}
}

// Len returns the number of templates.
func (s *Snapshot) Len() int { return len(s.templates) }

// LoadedAt is when the snapshot was installed.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Version increases with every installed snapshot.
func (s *Snapshot) Version() uint64 { return s.version }

// All yields every template in identity order. The embeddings are shared with
// the snapshot and must not be modified.
func (s *Snapshot) All() iter.Seq[*database.FaceTemplate] {
	return func(yield func(*database.FaceTemplate) bool) {
		for i := range s.templates {
			if !yield(&s.templates[i]) {
				return
			}
		}
	}
}

// Get returns a copy of the template for identity.
func (s *Snapshot) Get(identity string) (database.FaceTemplate, bool) {
	i, ok := s.index[identity]
	if !ok {
		return database.FaceTemplate{}, false
	}
	return s.templates[i].Clone(), true
}

// lookup returns the shared template pointer for identity.
func (s *Snapshot) lookup(identity string) *database.FaceTemplate {
	i, ok := s.index[identity]
	if !ok {
		return nil
	}
	return &s.templates[i]
}

// Templates returns a deep copy of the template set.
func (s *Snapshot) Templates() []database.FaceTemplate {
	out := make([]database.FaceTemplate, len(s.templates))
	for i := range s.templates {
		out[i] = s.templates[i].Clone()
	}
	return out
}

// HNSW returns the approximate nearest-neighbor index of this snapshot, built
// on first use. The metric of the first caller wins for the snapshot lifetime.
func (s *Snapshot) HNSW(metric string) *database.HNSWIndex {
	s.hnswOnce.Do(func() {
		s.hnswMetric = metric
		s.hnswIndex = database.NewHNSWIndex()
		// Build never fails; templates with a foreign dimension are skipped.
		_ = s.hnswIndex.BuildFromTemplates(s.templates, metric)
	})
	return s.hnswIndex
}

// Store owns the current Snapshot.
type Store struct {
	cur     atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	version uint64
}

// New returns a store holding an empty snapshot.
func New() *Store {
	s := &Store{}
	s.cur.Store(newSnapshot(nil, time.Time{}, 0))
	return s
}

// Snapshot returns the current immutable template set.
func (s *Store) Snapshot() *Snapshot {
	return s.cur.Load()
}

// Len returns the number of templates in the current snapshot.
func (s *Store) Len() int {
	return s.Snapshot().Len()
}

// Get returns a copy of the current template for identity.
func (s *Store) Get(identity string) (database.FaceTemplate, bool) {
	return s.Snapshot().Get(identity)
}

// Replace installs templates as the whole new set. Duplicate identities keep
// the newest UpdatedAt; embeddings are copied.
func (s *Store) Replace(templates []database.FaceTemplate, now time.Time) *Snapshot {
	byIdentity := make(map[string]int, len(templates))
	next := make([]database.FaceTemplate, 0, len(templates))
	for _, t := range templates {
		if i, ok := byIdentity[t.Identity]; ok {
			if t.UpdatedAt.After(next[i].UpdatedAt) {
				next[i] = t.Clone()
			}
			continue
		}
		byIdentity[t.Identity] = len(next)
		next = append(next, t.Clone())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.version++
	snap := newSnapshot(next, now, s.version)
	s.cur.Store(snap)
	return snap
}

// Upsert adds or replaces one template unless the stored one is newer.
// Reports whether the store changed.
func (s *Store) Upsert(t database.FaceTemplate, now time.Time) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.cur.Load()
	if existing := cur.lookup(t.Identity); existing != nil && existing.UpdatedAt.After(t.UpdatedAt) {
		return false
	}

	next := make([]database.FaceTemplate, 0, cur.Len()+1)
	for i := range cur.templates {
		if cur.templates[i].Identity != t.Identity {
			next = append(next, cur.templates[i])
		}
	}
	next = append(next, t.Clone())

	s.version++
	s.cur.Store(newSnapshot(next, now, s.version))
	return true
}

// Identities returns the identities of the current snapshot in order.
func (s *Store) Identities() []string {
	snap := s.Snapshot()
	out := make([]string, 0, snap.Len())
	for t := range snap.All() {
		out = append(out, t.Identity)
	}
	return slices.Clip(out)
}
