// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegate/internal/database"
)

// MockStore is an in-memory implementation of database.Store.
type MockStore struct {
	mu          sync.RWMutex
	records     []database.AttendanceRecord
	nextID      int64
	templates   map[string]database.FaceTemplate
	enrollments []database.PendingEnrollment

	// Error injection
	LatestRecordError   error
	OpenRecordError     error
	CloseRecordError    error
	ListRecordsError    error
	OpenRecordsError    error
	SummaryError        error
	PendingExportError  error
	MarkExportedError   error
	ListTemplatesError  error
	ReplaceTemplatesErr error
	UpsertTemplateError error
	EnqueueError        error
	ListPendingError    error
	MarkPushedError     error
	MarkFailedError     error

	// Call counters
	OpenRecordCalls  int
	CloseRecordCalls int
	ReplaceCalls     int
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{templates: make(map[string]database.FaceTemplate)}
}

// Driver returns the backend name
func (m *MockStore) Driver() string { return "mock" }

// Close is a no-op
func (m *MockStore) Close() error { return nil }

// AddRecord inserts a record as-is, assigning an ID
func (m *MockStore) AddRecord(rec database.AttendanceRecord) database.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, rec)
	return rec
}

// Records returns a copy of all records
func (m *MockStore) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AttendanceRecord, len(m.records))
	copy(out, m.records)
	return out
}

// LatestRecord returns the highest-sequence record of an identity on a day
func (m *MockStore) LatestRecord(ctx context.Context, identity, businessDay string) (*database.AttendanceRecord, error) {
	if m.LatestRecordError != nil {
		return nil, m.LatestRecordError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *database.AttendanceRecord
	for i := range m.records {
		r := m.records[i]
		if r.Identity == identity && r.BusinessDay == businessDay && (latest == nil || r.Seq > latest.Seq) {
			latest = &r
		}
	}
	return latest, nil
}

// OpenRecord inserts a new open record with the next sequence number
func (m *MockStore) OpenRecord(ctx context.Context, rec database.AttendanceRecord) (*database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenRecordCalls++
	if m.OpenRecordError != nil {
		return nil, m.OpenRecordError
	}
	maxSeq := 0
	for _, r := range m.records {
		if r.Identity != rec.Identity || r.BusinessDay != rec.BusinessDay {
			continue
		}
		if r.IsOpen() {
			return nil, database.ErrOpenRecordExists
		}
		maxSeq = max(maxSeq, r.Seq)
	}
	rec.Seq = maxSeq + 1
	rec.CheckOut = nil
	rec.ExportedAt = nil
	if err := database.ValidateRecord(rec); err != nil {
		return nil, err
	}
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, rec)
	return &rec, nil
}

// CloseRecord sets the check-out of an open record
func (m *MockStore) CloseRecord(ctx context.Context, identity, businessDay string, seq int, checkOut time.Time) (*database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseRecordCalls++
	if m.CloseRecordError != nil {
		return nil, m.CloseRecordError
	}
	for i := range m.records {
		r := &m.records[i]
		if r.Identity != identity || r.BusinessDay != businessDay || r.Seq != seq {
			continue
		}
		if !r.IsOpen() {
			return nil, database.ErrRecordNotOpen
		}
		closed := *r
		closed.CheckOut = &checkOut
		if err := database.ValidateRecord(closed); err != nil {
			return nil, err
		}
		*r = closed
		return &closed, nil
	}
	return nil, database.ErrRecordNotOpen
}

func (m *MockStore) filtered(filter database.RecordFilter) []database.AttendanceRecord {
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if filter.From != "" && r.BusinessDay < filter.From {
			continue
		}
		if filter.To != "" && r.BusinessDay > filter.To {
			continue
		}
		if filter.Identity != "" && r.Identity != filter.Identity {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BusinessDay != out[j].BusinessDay {
			return out[i].BusinessDay < out[j].BusinessDay
		}
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ListRecords returns records matching the filter
func (m *MockStore) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	if m.ListRecordsError != nil {
		return nil, m.ListRecordsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filtered(filter)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summary aggregates records per identity
func (m *MockStore) Summary(ctx context.Context, filter database.RecordFilter) ([]database.IdentitySummary, error) {
	if m.SummaryError != nil {
		return nil, m.SummaryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	byIdentity := make(map[string]*database.IdentitySummary)
	durations := make(map[string]time.Duration)
	var order []string
	for _, r := range m.filtered(filter) {
		s, ok := byIdentity[r.Identity]
		if !ok {
			s = &database.IdentitySummary{Identity: r.Identity}
			byIdentity[r.Identity] = s
			order = append(order, r.Identity)
		}
		s.DisplayName = max(s.DisplayName, r.DisplayName)
		s.Records++
		if !r.IsOpen() {
			s.CompletedSessions++
			durations[r.Identity] += r.Duration()
		}
	}
	sort.Strings(order)
	out := make([]database.IdentitySummary, 0, len(order))
	for _, id := range order {
		s := byIdentity[id]
		s.TotalHours = database.RoundHours(durations[id])
		out = append(out, *s)
	}
	return out, nil
}

// OpenRecords returns the records of a day without a check-out
func (m *MockStore) OpenRecords(ctx context.Context, businessDay string) ([]database.AttendanceRecord, error) {
	if m.OpenRecordsError != nil {
		return nil, m.OpenRecordsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if r.BusinessDay == businessDay && r.IsOpen() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// PendingExport returns closed records not yet exported
func (m *MockStore) PendingExport(ctx context.Context, limit int) ([]database.AttendanceRecord, error) {
	if m.PendingExportError != nil {
		return nil, m.PendingExportError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if !r.IsOpen() && r.ExportedAt == nil {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// MarkExported flags records as exported
func (m *MockStore) MarkExported(ctx context.Context, ids []int64, at time.Time) error {
	if m.MarkExportedError != nil {
		return m.MarkExportedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range m.records {
		if set[m.records[i].ID] && m.records[i].ExportedAt == nil {
			exported := at
			m.records[i].ExportedAt = &exported
		}
	}
	return nil
}

// ListTemplates returns all cached templates ordered by identity
func (m *MockStore) ListTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	if m.ListTemplatesError != nil {
		return nil, m.ListTemplatesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.FaceTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// ReplaceTemplates swaps the whole template cache
func (m *MockStore) ReplaceTemplates(ctx context.Context, templates []database.FaceTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplaceCalls++
	if m.ReplaceTemplatesErr != nil {
		return m.ReplaceTemplatesErr
	}
	if err := database.ValidateTemplates(templates); err != nil {
		return err
	}
	next := make(map[string]database.FaceTemplate, len(templates))
	for _, t := range templates {
		if cur, ok := next[t.Identity]; ok && cur.UpdatedAt.After(t.UpdatedAt) {
			continue
		}
		next[t.Identity] = t.Clone()
	}
	m.templates = next
	return nil
}

// UpsertTemplate stores or updates one template
func (m *MockStore) UpsertTemplate(ctx context.Context, template database.FaceTemplate) error {
	if m.UpsertTemplateError != nil {
		return m.UpsertTemplateError
	}
	if err := database.ValidateTemplate(template); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[template.Identity] = template.Clone()
	return nil
}

// Enqueue records a template that still has to be pushed
func (m *MockStore) Enqueue(ctx context.Context, template database.FaceTemplate) (*database.PendingEnrollment, error) {
	if m.EnqueueError != nil {
		return nil, m.EnqueueError
	}
	if err := database.ValidateTemplate(template); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := database.PendingEnrollment{
		ID:        uuid.NewString(),
		Template:  template.Clone(),
		CreatedAt: time.Now(),
	}
	m.enrollments = append(m.enrollments, p)
	return &p, nil
}

// ListPendingEnrollments returns enrollments without a successful push
func (m *MockStore) ListPendingEnrollments(ctx context.Context) ([]database.PendingEnrollment, error) {
	if m.ListPendingError != nil {
		return nil, m.ListPendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.PendingEnrollment
	for _, p := range m.enrollments {
		if p.PushedAt == nil {
			p.Template = p.Template.Clone()
			out = append(out, p)
		}
	}
	return out, nil
}

// MarkPushed records a successful push
func (m *MockStore) MarkPushed(ctx context.Context, id string, at time.Time) error {
	if m.MarkPushedError != nil {
		return m.MarkPushedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.enrollments {
		if m.enrollments[i].ID == id {
			pushed := at
			m.enrollments[i].PushedAt = &pushed
			m.enrollments[i].LastError = ""
		}
	}
	return nil
}

// MarkFailed increments the attempt counter and keeps the last error
func (m *MockStore) MarkFailed(ctx context.Context, id string, reason string) error {
	if m.MarkFailedError != nil {
		return m.MarkFailedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.enrollments {
		if m.enrollments[i].ID == id {
			m.enrollments[i].Attempts++
			m.enrollments[i].LastError = reason
		}
	}
	return nil
}
