package constants

// Handler constants
const (
	// DefaultReportDays is the default report period when no range is given
	DefaultReportDays = 7

	// MaxReportDays is the widest date range accepted by the report endpoints
	MaxReportDays = 366
)

// DayLayout is the wire and storage format of a business day
const DayLayout = "2006-01-02"
