package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
)

// Machine is the attendance state machine as seen by the API.
type Machine interface {
	Confirm(ctx context.Context, identity string, now time.Time) (attendance.Outcome, error)
	Cancel(identity string, now time.Time) bool
	ForceCheckIn(ctx context.Context, identity string, now time.Time) (attendance.Outcome, error)
	ForceCheckOut(ctx context.Context, identity string, now time.Time) (attendance.Outcome, error)
	CloseOpen(ctx context.Context, day string, now time.Time) ([]attendance.Outcome, error)
	Status(ctx context.Context, identity string, now time.Time) (attendance.Status, error)
	Pending(now time.Time) []attendance.Pending
	BusinessDay(t time.Time) string
}

// AttendanceHandler handles attendance state, overrides and reports.
type AttendanceHandler struct {
	machine Machine
	ledger  database.LedgerReader
	now     Clock
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(m Machine, ledger database.LedgerReader, now Clock) *AttendanceHandler {
	if now == nil {
		now = time.Now
	}
	return &AttendanceHandler{machine: m, ledger: ledger, now: now}
}

func identityParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "identity"))
}

// Status returns the current state of one identity.
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity := identityParam(r)
	st, err := h.machine.Status(r.Context(), identity, h.now())
	if err != nil {
		weblog().Error().Err(err).Str("identity", sanitizeForLog(identity)).Msg("attendance status failed")
		respondError(w, http.StatusInternalServerError, "failed to read attendance state")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// Confirm accepts the pending transition of an identity.
func (h *AttendanceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.respondOutcome(w, r, h.machine.Confirm)
}

// ForceCheckIn opens a record for an identity without confirmation.
func (h *AttendanceHandler) ForceCheckIn(w http.ResponseWriter, r *http.Request) {
	h.respondOutcome(w, r, h.machine.ForceCheckIn)
}

// ForceCheckOut closes the open record of an identity immediately.
func (h *AttendanceHandler) ForceCheckOut(w http.ResponseWriter, r *http.Request) {
	h.respondOutcome(w, r, h.machine.ForceCheckOut)
}

func (h *AttendanceHandler) respondOutcome(w http.ResponseWriter, r *http.Request,
	action func(context.Context, string, time.Time) (attendance.Outcome, error),
) {
	identity := identityParam(r)
	out, err := action(r.Context(), identity, h.now())
	if err != nil {
		weblog().Error().Err(err).Str("identity", sanitizeForLog(identity)).Msg("attendance action failed")
		respondError(w, http.StatusInternalServerError, "failed to record attendance")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Cancel discards the pending transition of an identity.
func (h *AttendanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity := identityParam(r)
	cancelled := h.machine.Cancel(identity, h.now())
	respondJSON(w, http.StatusOK, map[string]any{
		"identity":  identity,
		"cancelled": cancelled,
	})
}

// Pending lists live confirmations.
func (h *AttendanceHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending := h.machine.Pending(h.now())
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(pending),
		"pending": pending,
	})
}

// CloseDayResponse is the body of the close-day override.
type CloseDayResponse struct {
	Day      string               `json:"day"`
	Closed   int                  `json:"closed"`
	Outcomes []attendance.Outcome `json:"outcomes"`
}

// CloseDay checks out every identity still checked in on a day.
// The day query parameter defaults to the current business day.
func (h *AttendanceHandler) CloseDay(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	day := r.URL.Query().Get("day")
	if day == "" {
		day = h.machine.BusinessDay(now)
	} else if _, err := time.Parse(constants.DayLayout, day); err != nil {
		respondError(w, http.StatusBadRequest, "invalid day "+strconv.Quote(day))
		return
	}
	outcomes, err := h.machine.CloseOpen(r.Context(), day, now)
	if err != nil {
		weblog().Error().Err(err).Str("day", day).Msg("close day failed")
		respondError(w, http.StatusInternalServerError, "failed to close open records")
		return
	}
	respondJSON(w, http.StatusOK, CloseDayResponse{Day: day, Closed: len(outcomes), Outcomes: outcomes})
}

// RecordsResponse is the body of the record listing.
type RecordsResponse struct {
	From    string                      `json:"from"`
	To      string                      `json:"to"`
	Count   int                         `json:"count"`
	Records []database.AttendanceRecord `json:"records"`
}

// List returns ledger rows for a day range, optionally for one identity.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDayRange(r, h.machine.BusinessDay(h.now()))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.ledger.ListRecords(r.Context(), database.RecordFilter{
		From:     from,
		To:       to,
		Identity: r.URL.Query().Get("identity"),
	})
	if err != nil {
		weblog().Error().Err(err).Msg("list attendance failed")
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, RecordsResponse{From: from, To: to, Count: len(records), Records: records})
}

// SummaryResponse is the body of the per-identity summary.
type SummaryResponse struct {
	From       string                     `json:"from"`
	To         string                     `json:"to"`
	TotalHours float64                    `json:"total_hours"`
	Identities []database.IdentitySummary `json:"identities"`
}

// Summary aggregates hours per identity over a day range.
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDayRange(r, h.machine.BusinessDay(h.now()))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.ledger.Summary(r.Context(), database.RecordFilter{
		From:     from,
		To:       to,
		Identity: r.URL.Query().Get("identity"),
	})
	if err != nil {
		weblog().Error().Err(err).Msg("attendance summary failed")
		respondError(w, http.StatusInternalServerError, "failed to summarize attendance")
		return
	}
	if summary == nil {
		summary = []database.IdentitySummary{}
	}
	var total float64
	for _, s := range summary {
		total += s.TotalHours
	}
	respondJSON(w, http.StatusOK, SummaryResponse{
		From:       from,
		To:         to,
		TotalHours: database.RoundHours(time.Duration(total * float64(time.Hour))),
		Identities: summary,
	})
}
