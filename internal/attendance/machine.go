// Package attendance turns recognitions into check-in and check-out records.
//
// The ledger is the source of truth: the state of an identity is derived from
// its latest record of the business day on every call, and each transition is
// written to the ledger before any in-memory bookkeeping changes. Only pending
// confirmations live in memory; they expire lazily.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/keylock"
	"github.com/kozaktomas/facegate/internal/logger"
)

// Pending is a proposed transition awaiting confirm or cancel.
type Pending struct {
	Identity    string        `json:"identity"`
	DisplayName string        `json:"display_name,omitempty"`
	Transition  Transition    `json:"transition"`
	BusinessDay string        `json:"business_day"`
	Seq         int           `json:"seq,omitempty"`
	ProposedAt  time.Time     `json:"proposed_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Elapsed     time.Duration `json:"-"`
	Hours       float64       `json:"hours_worked"`
}

// Expired reports whether the confirmation window has passed at now.
func (p Pending) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Status is the current attendance view of one identity.
type Status struct {
	Identity    string                     `json:"identity"`
	BusinessDay string                     `json:"business_day"`
	State       State                      `json:"state"`
	Record      *database.AttendanceRecord `json:"record,omitempty"`
	Pending     *Pending                   `json:"pending,omitempty"`
	Hours       float64                    `json:"hours_worked"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithNames resolves display names stored on new records.
func WithNames(names func(identity string) string) Option {
	return func(m *Machine) { m.names = names }
}

// WithLogger replaces the component logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// Machine is the per-identity attendance state machine.
type Machine struct {
	ledger database.LedgerWriter
	policy Policy
	locks  *keylock.Locker
	names  func(string) string
	log    *logger.Logger

	mu      sync.Mutex
	pending map[string]Pending
}

// New creates a machine writing to ledger.
func New(ledger database.LedgerWriter, policy Policy, opts ...Option) *Machine {
	if policy.Location == nil {
		policy.Location = time.Local
	}
	m := &Machine{
		ledger:  ledger,
		policy:  policy,
		locks:   keylock.New(),
		names:   func(string) string { return "" },
		log:     logger.Component("attendance"),
		pending: make(map[string]Pending),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active policy.
func (m *Machine) Policy() Policy { return m.policy }

// BusinessDay returns the business day of t.
func (m *Machine) BusinessDay(t time.Time) string { return m.policy.BusinessDay(t) }

// Detect applies one accepted recognition of identity at now.
// Policy refusals are outcomes; errors mean the ledger could not be read or written.
func (m *Machine) Detect(ctx context.Context, identity string, now time.Time) (Outcome, error) {
	unlock := m.locks.Lock(identity)
	defer unlock()

	day := m.policy.BusinessDay(now)
	rec, err := m.ledger.LatestRecord(ctx, identity, day)
	if err != nil {
		return Outcome{}, fmt.Errorf("read attendance state of %s: %w", identity, err)
	}

	switch stateOf(rec) {
	case NoRecord, CheckedOut:
		if !m.policy.InstantMode {
			p := m.propose(Pending{
				Identity:    identity,
				DisplayName: m.names(identity),
				Transition:  TransitionCheckIn,
				BusinessDay: day,
			}, now)
			return confirmationRequired(p), nil
		}
		return m.checkIn(ctx, identity, day, now)

	default:
		elapsed := now.Sub(rec.CheckIn)
		if elapsed < m.policy.MinimumWorkDuration {
			remaining := m.policy.MinimumWorkDuration - elapsed
			out := Blocked(identity, rec.DisplayName, ReasonMinimumDuration, RemainingText(remaining))
			out.Remaining = remaining
			out.WaitMinutes = waitMinutes(remaining)
			out.Hours = database.RoundHours(max(0, elapsed))
			out.Record = rec
			return out, nil
		}
		if m.policy.AutoConfirmCheckout {
			return m.checkOut(ctx, rec, now)
		}
		p := m.propose(Pending{
			Identity:    identity,
			DisplayName: rec.DisplayName,
			Transition:  TransitionCheckOut,
			BusinessDay: rec.BusinessDay,
			Seq:         rec.Seq,
			Elapsed:     elapsed,
			Hours:       database.RoundHours(elapsed),
		}, now)
		return confirmationRequired(p), nil
	}
}

// Confirm accepts the pending transition of identity.
func (m *Machine) Confirm(ctx context.Context, identity string, now time.Time) (Outcome, error) {
	unlock := m.locks.Lock(identity)
	defer unlock()

	p, ok := m.peekPending(identity)
	if !ok {
		return Blocked(identity, m.names(identity), ReasonNoPending, "no pending confirmation"), nil
	}
	if p.Expired(now) {
		m.dropPending(identity)
		return Blocked(identity, p.DisplayName, ReasonExpired, "confirmation expired"), nil
	}

	switch p.Transition {
	case TransitionCheckIn:
		out, err := m.checkIn(ctx, identity, m.policy.BusinessDay(now), now)
		if err != nil {
			return Outcome{}, err
		}
		m.dropPending(identity)
		return out, nil

	default:
		rec, err := m.ledger.CloseRecord(ctx, identity, p.BusinessDay, p.Seq, now)
		if errors.Is(err, database.ErrRecordNotOpen) {
			m.dropPending(identity)
			return Blocked(identity, p.DisplayName, ReasonNotCheckedIn, "not checked in"), nil
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("close attendance record of %s: %w", identity, err)
		}
		m.dropPending(identity)
		m.log.Info().Str("identity", identity).Float64("hours", rec.Hours()).Msg("checked out")
		return checkedOut(rec), nil
	}
}

// Cancel discards the pending transition of identity. It reports whether a
// live confirmation was cancelled.
func (m *Machine) Cancel(identity string, now time.Time) bool {
	unlock := m.locks.Lock(identity)
	defer unlock()

	p, ok := m.peekPending(identity)
	m.dropPending(identity)
	return ok && !p.Expired(now)
}

// ForceCheckOut closes the open record of identity without waiting for the
// minimum duration or a confirmation. Meant for manager overrides.
func (m *Machine) ForceCheckOut(ctx context.Context, identity string, now time.Time) (Outcome, error) {
	unlock := m.locks.Lock(identity)
	defer unlock()

	rec, err := m.ledger.LatestRecord(ctx, identity, m.policy.BusinessDay(now))
	if err != nil {
		return Outcome{}, fmt.Errorf("read attendance state of %s: %w", identity, err)
	}
	if stateOf(rec) != CheckedIn {
		return Blocked(identity, m.names(identity), ReasonNotCheckedIn, "not checked in"), nil
	}
	out, err := m.checkOut(ctx, rec, now)
	if err != nil {
		return Outcome{}, err
	}
	m.log.Warn().Str("identity", identity).Msg("forced checkout")
	return out, nil
}

// ForceCheckIn opens a record for identity without a confirmation step.
// Meant for manager overrides; an identity that is already checked in is refused.
func (m *Machine) ForceCheckIn(ctx context.Context, identity string, now time.Time) (Outcome, error) {
	unlock := m.locks.Lock(identity)
	defer unlock()

	out, err := m.checkIn(ctx, identity, m.policy.BusinessDay(now), now)
	if err != nil {
		return Outcome{}, err
	}
	if out.Kind == KindCheckedIn {
		m.dropPending(identity)
		m.log.Warn().Str("identity", identity).Msg("forced check-in")
	}
	return out, nil
}

// CloseOpen checks out every record of day that is still open, at now.
// An empty day means the current business day. Records closed concurrently
// are skipped.
func (m *Machine) CloseOpen(ctx context.Context, day string, now time.Time) ([]Outcome, error) {
	if day == "" {
		day = m.policy.BusinessDay(now)
	}
	open, err := m.ledger.OpenRecords(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list open records of %s: %w", day, err)
	}

	outcomes := make([]Outcome, 0, len(open))
	for i := range open {
		out, err := m.closeOne(ctx, &open[i], now)
		if errors.Is(err, database.ErrRecordNotOpen) {
			continue
		}
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	if len(outcomes) > 0 {
		m.log.Warn().Str("day", day).Int("closed", len(outcomes)).Msg("closed open records")
	}
	return outcomes, nil
}

func (m *Machine) closeOne(ctx context.Context, rec *database.AttendanceRecord, now time.Time) (Outcome, error) {
	unlock := m.locks.Lock(rec.Identity)
	defer unlock()
	return m.checkOut(ctx, rec, now)
}

// Status returns the current state of identity.
func (m *Machine) Status(ctx context.Context, identity string, now time.Time) (Status, error) {
	day := m.policy.BusinessDay(now)
	rec, err := m.ledger.LatestRecord(ctx, identity, day)
	if err != nil {
		return Status{}, fmt.Errorf("read attendance state of %s: %w", identity, err)
	}
	st := Status{Identity: identity, BusinessDay: day, State: stateOf(rec), Record: rec}
	switch st.State {
	case CheckedIn:
		st.Hours = database.RoundHours(max(0, now.Sub(rec.CheckIn)))
	case CheckedOut:
		st.Hours = rec.Hours()
	}
	if p, ok := m.peekPending(identity); ok && !p.Expired(now) {
		st.Pending = &p
	}
	return st, nil
}

// Pending lists live confirmations ordered by proposal time, dropping expired ones.
func (m *Machine) Pending(now time.Time) []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, 0, len(m.pending))
	for id, p := range m.pending {
		if p.Expired(now) {
			delete(m.pending, id)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out
}

func (m *Machine) checkIn(ctx context.Context, identity, day string, now time.Time) (Outcome, error) {
	rec, err := m.ledger.OpenRecord(ctx, database.AttendanceRecord{
		Identity:    identity,
		DisplayName: m.names(identity),
		BusinessDay: day,
		CheckIn:     now,
		TerminalID:  m.policy.TerminalID,
	})
	if errors.Is(err, database.ErrOpenRecordExists) {
		return Blocked(identity, m.names(identity), ReasonAlreadyCheckedIn, "already checked in"), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("open attendance record of %s: %w", identity, err)
	}
	m.log.Info().Str("identity", identity).Str("day", day).Int("seq", rec.Seq).Msg("checked in")
	return checkedIn(rec), nil
}

func (m *Machine) checkOut(ctx context.Context, rec *database.AttendanceRecord, now time.Time) (Outcome, error) {
	at := now
	if at.Before(rec.CheckIn) {
		at = rec.CheckIn
	}
	closed, err := m.ledger.CloseRecord(ctx, rec.Identity, rec.BusinessDay, rec.Seq, at)
	if err != nil {
		return Outcome{}, fmt.Errorf("close attendance record of %s: %w", rec.Identity, err)
	}
	m.dropPending(rec.Identity)
	m.log.Info().Str("identity", rec.Identity).Float64("hours", closed.Hours()).Msg("checked out")
	return checkedOut(closed), nil
}

// propose creates or refreshes the pending entry of p.Identity.
func (m *Machine) propose(p Pending, now time.Time) Pending {
	p.ProposedAt = now
	p.ExpiresAt = now.Add(m.policy.ConfirmationTimeout)
	m.mu.Lock()
	m.pending[p.Identity] = p
	m.mu.Unlock()
	return p
}

func (m *Machine) peekPending(identity string) (Pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[identity]
	return p, ok
}

func (m *Machine) dropPending(identity string) {
	m.mu.Lock()
	delete(m.pending, identity)
	m.mu.Unlock()
}
