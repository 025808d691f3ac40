package attendance

import (
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
)

// Policy holds the business rules of the state machine.
type Policy struct {
	// MinimumWorkDuration must pass after check-in before a checkout is proposed.
	MinimumWorkDuration time.Duration
	// ConfirmationTimeout bounds how long a pending confirmation stays valid.
	ConfirmationTimeout time.Duration
	// InstantMode checks in on first detection without confirmation.
	InstantMode bool
	// AutoConfirmCheckout closes records without confirmation once the
	// minimum duration has passed. Off unless explicitly enabled.
	AutoConfirmCheckout bool
	// Location and DayStartOffset define the business day.
	Location       *time.Location
	DayStartOffset time.Duration
	// TerminalID is stamped on every record.
	TerminalID string
}

// DefaultPolicy returns the stock terminal policy.
func DefaultPolicy() Policy {
	return Policy{
		MinimumWorkDuration: constants.DefaultMinimumWorkDuration,
		ConfirmationTimeout: constants.DefaultConfirmationTimeout,
		InstantMode:         true,
		Location:            time.Local,
	}
}

// PolicyFromConfig builds the policy from terminal configuration.
func PolicyFromConfig(cfg *config.Config) (Policy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		MinimumWorkDuration: cfg.Attendance.MinimumWorkDuration,
		ConfirmationTimeout: cfg.Attendance.ConfirmationTimeout,
		InstantMode:         cfg.Attendance.InstantMode,
		AutoConfirmCheckout: cfg.Attendance.AutoConfirmCheckout,
		Location:            loc,
		DayStartOffset:      cfg.Attendance.DayStartOffset,
		TerminalID:          cfg.Terminal.ID,
	}, nil
}

// BusinessDay returns the YYYY-MM-DD day that t belongs to.
func (p Policy) BusinessDay(t time.Time) string {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Add(-p.DayStartOffset).Format(constants.DayLayout)
}
