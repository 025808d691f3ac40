package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
)

// AttendanceExport is one closed attendance record as sent to the remote.
type AttendanceExport struct {
	Identity     string    `json:"identity"`
	BusinessDay  string    `json:"business_day"`
	CheckIn      time.Time `json:"check_in"`
	CheckOut     time.Time `json:"check_out"`
	TotalHours   float64   `json:"total_hours"`
	SourceSystem string    `json:"source_system"`
	TerminalID   string    `json:"terminal_id,omitempty"`
}

// NewAttendanceExport builds the export payload of a closed record.
func NewAttendanceExport(rec database.AttendanceRecord) (AttendanceExport, error) {
	if rec.CheckOut == nil {
		return AttendanceExport{}, fmt.Errorf("record %s/%s/%d: %w", rec.Identity, rec.BusinessDay, rec.Seq, database.ErrInvalidRecord)
	}
	return AttendanceExport{
		Identity:     rec.Identity,
		BusinessDay:  rec.BusinessDay,
		CheckIn:      rec.CheckIn,
		CheckOut:     *rec.CheckOut,
		TotalHours:   rec.Hours(),
		SourceSystem: constants.SourceSystem,
		TerminalID:   rec.TerminalID,
	}, nil
}

// ExportAttendance posts one closed record.
func (c *Client) ExportAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	payload, err := NewAttendanceExport(rec)
	if err != nil {
		return err
	}
	if err := doPostJSON(ctx, c, payload, "attendance"); err != nil {
		return fmt.Errorf("export attendance %s/%s/%d: %w", rec.Identity, rec.BusinessDay, rec.Seq, err)
	}
	return nil
}
