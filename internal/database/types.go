package database

import (
	"errors"
	"math"
	"slices"
	"time"
)

var (
	// ErrOpenRecordExists is returned when a check-in is attempted while the
	// identity already has an open record for the business day.
	ErrOpenRecordExists = errors.New("open attendance record already exists")
	// ErrRecordNotOpen is returned when closing a record that is missing or already closed.
	ErrRecordNotOpen = errors.New("attendance record is not open")
	// ErrInvalidTemplate is returned for templates that fail validation.
	ErrInvalidTemplate = errors.New("invalid face template")
	// ErrInvalidRecord is returned for attendance rows that fail validation.
	ErrInvalidRecord = errors.New("invalid attendance record")
)

// FaceTemplate is one enrolled identity and its reference embedding.
type FaceTemplate struct {
	Identity    string    `json:"identity" validate:"required,max=128"`
	DisplayName string    `json:"display_name" validate:"max=255"`
	Embedding   []float32 `json:"embedding" validate:"required,min=1"`
	Status      string    `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no memory with t.
func (t FaceTemplate) Clone() FaceTemplate {
	t.Embedding = slices.Clone(t.Embedding)
	return t
}

// IsActive reports whether the template may be used for matching.
// An empty status is treated as active.
func (t FaceTemplate) IsActive() bool {
	return t.Status == "" || t.Status == TemplateStatusActive
}

// AttendanceRecord is one check-in/check-out session of an identity.
// Rows are keyed by (Identity, BusinessDay, Seq); ID is the storage row id.
type AttendanceRecord struct {
	ID          int64      `json:"id"`
	Identity    string     `json:"identity" validate:"required,max=128"`
	DisplayName string     `json:"display_name,omitempty" validate:"max=255"`
	BusinessDay string     `json:"business_day" validate:"required,datetime=2006-01-02"`
	Seq         int        `json:"seq" validate:"gte=0"`
	CheckIn     time.Time  `json:"check_in" validate:"required"`
	CheckOut    *time.Time `json:"check_out,omitempty"`
	TerminalID  string     `json:"terminal_id,omitempty" validate:"max=128"`
	ExportedAt  *time.Time `json:"exported_at,omitempty"`
}

// IsOpen reports whether the record has a check-in but no check-out.
func (r AttendanceRecord) IsOpen() bool {
	return r.CheckOut == nil
}

// Duration returns the worked duration of a closed record, or zero while open.
func (r AttendanceRecord) Duration() time.Duration {
	if r.CheckOut == nil {
		return 0
	}
	return r.CheckOut.Sub(r.CheckIn)
}

// Hours returns the worked duration in hours rounded to two decimals.
func (r AttendanceRecord) Hours() float64 {
	return RoundHours(r.Duration())
}

// RoundHours converts a duration to hours rounded to two decimals.
func RoundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}

// RecordFilter narrows ListRecords and Summary. Days are inclusive
// YYYY-MM-DD business days; empty fields do not filter.
type RecordFilter struct {
	From     string
	To       string
	Identity string
	Limit    int
}

// IdentitySummary aggregates attendance of one identity over a day range.
type IdentitySummary struct {
	Identity          string  `json:"identity"`
	DisplayName       string  `json:"display_name,omitempty"`
	Records           int     `json:"total_records"`
	CompletedSessions int     `json:"completed_sessions"`
	TotalHours        float64 `json:"total_hours"`
}

// PendingEnrollment is a locally enrolled template waiting to be pushed to
// the remote authority.
type PendingEnrollment struct {
	ID        string       `json:"id"`
	Template  FaceTemplate `json:"template"`
	CreatedAt time.Time    `json:"created_at"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	PushedAt  *time.Time   `json:"pushed_at,omitempty"`
}
