package database

import (
	"context"
	"time"
)

// LedgerReader provides read-only access to the attendance ledger
type LedgerReader interface {
	// LatestRecord returns the highest-sequence record of an identity on a
	// business day, or nil if there is none.
	LatestRecord(ctx context.Context, identity, businessDay string) (*AttendanceRecord, error)
	// ListRecords returns records matching the filter ordered by day, identity and sequence
	ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error)
	// OpenRecords returns the records of a business day that have no check-out
	OpenRecords(ctx context.Context, businessDay string) ([]AttendanceRecord, error)
	// Summary aggregates records per identity over the filter's day range
	Summary(ctx context.Context, filter RecordFilter) ([]IdentitySummary, error)
	// PendingExport returns closed records that were not yet exported, oldest first
	PendingExport(ctx context.Context, limit int) ([]AttendanceRecord, error)
}

// LedgerWriter provides write access to the attendance ledger
type LedgerWriter interface {
	LedgerReader

	// OpenRecord inserts a new open record with the next sequence number for
	// the identity and day. Returns ErrOpenRecordExists if one is already open.
	OpenRecord(ctx context.Context, rec AttendanceRecord) (*AttendanceRecord, error)
	// CloseRecord sets the check-out of an open record.
	// Returns ErrRecordNotOpen if the record is missing or already closed.
	CloseRecord(ctx context.Context, identity, businessDay string, seq int, checkOut time.Time) (*AttendanceRecord, error)
	// MarkExported flags records as acknowledged by the business system
	MarkExported(ctx context.Context, ids []int64, at time.Time) error
}

// TemplateRepository caches face templates between restarts
type TemplateRepository interface {
	// ListTemplates returns all cached templates
	ListTemplates(ctx context.Context) ([]FaceTemplate, error)
	// ReplaceTemplates swaps the whole cache for the given set in one transaction
	ReplaceTemplates(ctx context.Context, templates []FaceTemplate) error
	// UpsertTemplate stores or updates one template by identity
	UpsertTemplate(ctx context.Context, template FaceTemplate) error
}

// EnrollmentQueue durably tracks local enrollments until the remote acknowledges them
type EnrollmentQueue interface {
	// Enqueue records a template that still has to be pushed
	Enqueue(ctx context.Context, template FaceTemplate) (*PendingEnrollment, error)
	// ListPendingEnrollments returns enrollments without a successful push, oldest first
	ListPendingEnrollments(ctx context.Context) ([]PendingEnrollment, error)
	// MarkPushed records a successful push
	MarkPushed(ctx context.Context, id string, at time.Time) error
	// MarkFailed increments the attempt counter and keeps the last error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Store is a complete terminal-local storage backend.
type Store interface {
	LedgerWriter
	TemplateRepository
	EnrollmentQueue

	// Driver names the backend (sqlite, postgres)
	Driver() string
	// Close releases the underlying connections
	Close() error
}
