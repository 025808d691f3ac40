package attendance

import (
	"fmt"
	"math"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// State of an identity on one business day.
type State int

const (
	NoRecord State = iota
	CheckedIn
	CheckedOut
)

func (s State) String() string {
	switch s {
	case CheckedIn:
		return "checked_in"
	case CheckedOut:
		return "checked_out"
	default:
		return "no_record"
	}
}

// MarshalText renders the state as its name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// stateOf derives the state from the latest record of the day.
func stateOf(rec *database.AttendanceRecord) State {
	switch {
	case rec == nil:
		return NoRecord
	case rec.IsOpen():
		return CheckedIn
	default:
		return CheckedOut
	}
}

// Kind is the user-facing result of one detection or operator action.
type Kind int

const (
	KindUnknown Kind = iota
	KindCheckedIn
	KindCheckedOut
	KindConfirmationRequired
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindCheckedIn:
		return "checked_in"
	case KindCheckedOut:
		return "checked_out"
	case KindConfirmationRequired:
		return "confirmation_required"
	case KindBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind as its name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Reason explains a Blocked outcome.
type Reason string

const (
	ReasonMinimumDuration  Reason = "minimum_duration"
	ReasonCooldown         Reason = "cooldown"
	ReasonNoPending        Reason = "no_pending_confirmation"
	ReasonExpired          Reason = "confirmation_expired"
	ReasonNotCheckedIn     Reason = "not_checked_in"
	ReasonAlreadyCheckedIn Reason = "already_checked_in"
)

// Transition is what a pending confirmation will do once accepted.
type Transition string

const (
	TransitionCheckIn  Transition = "check_in"
	TransitionCheckOut Transition = "check_out"
)

// Outcome is reported once per detected face or operator action.
type Outcome struct {
	Kind        Kind                       `json:"kind"`
	Identity    string                     `json:"identity,omitempty"`
	DisplayName string                     `json:"display_name,omitempty"`
	Time        time.Time                  `json:"time,omitzero"`
	Hours       float64                    `json:"hours_worked,omitempty"`
	Transition  Transition                 `json:"transition,omitempty"`
	Reason      Reason                     `json:"reason,omitempty"`
	Remaining   time.Duration              `json:"-"`
	WaitMinutes int                        `json:"wait_minutes,omitempty"`
	Message     string                     `json:"message"`
	Record      *database.AttendanceRecord `json:"record,omitempty"`
}

// Unknown is the outcome for a face that matched nobody.
func Unknown() Outcome {
	return Outcome{Kind: KindUnknown, Message: "unknown face"}
}

func checkedIn(rec *database.AttendanceRecord) Outcome {
	return Outcome{
		Kind:        KindCheckedIn,
		Identity:    rec.Identity,
		DisplayName: rec.DisplayName,
		Time:        rec.CheckIn,
		Message:     "checked in at " + rec.CheckIn.Format("15:04"),
		Record:      rec,
	}
}

func checkedOut(rec *database.AttendanceRecord) Outcome {
	hours := rec.Hours()
	return Outcome{
		Kind:        KindCheckedOut,
		Identity:    rec.Identity,
		DisplayName: rec.DisplayName,
		Time:        *rec.CheckOut,
		Hours:       hours,
		Message:     fmt.Sprintf("checked out at %s after %.2f hours", rec.CheckOut.Format("15:04"), hours),
		Record:      rec,
	}
}

func confirmationRequired(p Pending) Outcome {
	msg := fmt.Sprintf("confirm checkout after %.2f hours", p.Hours)
	if p.Transition == TransitionCheckIn {
		msg = "confirm check-in"
	}
	return Outcome{
		Kind:        KindConfirmationRequired,
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		Time:        p.ProposedAt,
		Hours:       p.Hours,
		Transition:  p.Transition,
		Message:     msg,
	}
}

// Blocked builds a refused outcome with a display text.
func Blocked(identity, displayName string, reason Reason, message string) Outcome {
	return Outcome{
		Kind:        KindBlocked,
		Identity:    identity,
		DisplayName: displayName,
		Reason:      reason,
		Message:     message,
	}
}

// RemainingText renders a wait such as "need 50 more minutes", rounding up.
func RemainingText(remaining time.Duration) string {
	minutes := waitMinutes(remaining)
	if minutes == 1 {
		return "need 1 more minute"
	}
	return fmt.Sprintf("need %d more minutes", minutes)
}

func waitMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
