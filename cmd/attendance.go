package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/syncagent"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect and manage the local attendance ledger",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records",
	Long: `List attendance records of a business day range.

Examples:
  facegate attendance list
  facegate attendance list --from 2026-03-01 --to 2026-03-31 --identity E42`,
	RunE: runAttendanceList,
}

var attendanceSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize worked hours per identity",
	RunE:  runAttendanceSummary,
}

var attendanceStatusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Show the current state of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceStatus,
}

var attendanceCheckoutCmd = &cobra.Command{
	Use:   "checkout <identity>",
	Short: "Force a checkout, ignoring the minimum work duration",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceCheckout,
}

var attendanceCheckinCmd = &cobra.Command{
	Use:   "checkin <identity>",
	Short: "Force a check-in without confirmation",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceCheckin,
}

var attendanceCloseDayCmd = &cobra.Command{
	Use:   "close-day",
	Short: "Check out everyone still checked in on a business day",
	Long: `Close every open attendance record of a business day at the current time.

Examples:
  facegate attendance close-day
  facegate attendance close-day --day 2026-03-01`,
	RunE: runAttendanceCloseDay,
}

var attendanceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export closed records to the business system",
	RunE:  runAttendanceExport,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceListCmd, attendanceSummaryCmd, attendanceStatusCmd,
		attendanceCheckinCmd, attendanceCheckoutCmd, attendanceCloseDayCmd, attendanceExportCmd)

	for _, c := range []*cobra.Command{attendanceListCmd, attendanceSummaryCmd} {
		c.Flags().String("from", "", "First business day (YYYY-MM-DD), defaults to a week ago")
		c.Flags().String("to", "", "Last business day (YYYY-MM-DD), defaults to today")
		c.Flags().String("identity", "", "Only this identity")
	}
	attendanceListCmd.Flags().Int("limit", 0, "Maximum number of records")
	attendanceCloseDayCmd.Flags().String("day", "", "Business day to close (YYYY-MM-DD), defaults to today")
	for _, c := range []*cobra.Command{attendanceListCmd, attendanceSummaryCmd, attendanceStatusCmd,
		attendanceCheckinCmd, attendanceCheckoutCmd, attendanceCloseDayCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}
	attendanceExportCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
	attendanceExportCmd.Flags().Bool("all", false, "Keep exporting batches until nothing is left")
}

// ExportResult reports an attendance export run.
type ExportResult struct {
	Success       bool   `json:"success"`
	Exported      int    `json:"exported"`
	Batches       int    `json:"batches"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

// recordFilter builds a filter from the range flags. Days are business days
// of the terminal time zone.
func recordFilter(cmd *cobra.Command, policy attendance.Policy, now time.Time) (database.RecordFilter, error) {
	f := database.RecordFilter{Identity: mustGetString(cmd, "identity")}
	if cmd.Flags().Lookup("limit") != nil {
		f.Limit = mustGetInt(cmd, "limit")
	}
	from, err := getDay(cmd, "from")
	if err != nil {
		return f, err
	}
	to, err := getDay(cmd, "to")
	if err != nil {
		return f, err
	}
	if to.IsZero() {
		to, _ = time.Parse(constants.DayLayout, policy.BusinessDay(now))
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -(constants.DefaultReportDays - 1))
	}
	if from.After(to) {
		return f, errors.New("--from is after --to")
	}
	if to.Sub(from) >= constants.MaxReportDays*24*time.Hour {
		return f, fmt.Errorf("range exceeds %d days", constants.MaxReportDays)
	}
	f.From = from.Format(constants.DayLayout)
	f.To = to.Format(constants.DayLayout)
	return f, nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	policy, err := attendance.PolicyFromConfig(cfg)
	if err != nil {
		return err
	}
	filter, err := recordFilter(cmd, policy, time.Now())
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.ListRecords(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tIDENTITY\tNAME\tSEQ\tIN\tOUT\tHOURS\tEXPORTED")
	for _, r := range records {
		out, hours := "-", "-"
		if r.CheckOut != nil {
			out = r.CheckOut.In(policy.Location).Format("15:04")
			hours = fmt.Sprintf("%.2f", r.Hours())
		}
		exported := "no"
		if r.ExportedAt != nil {
			exported = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n", r.BusinessDay, r.Identity, r.DisplayName, r.Seq,
			r.CheckIn.In(policy.Location).Format("15:04"), out, hours, exported)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d records between %s and %s\n", len(records), filter.From, filter.To)
	return nil
}

func runAttendanceSummary(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	policy, err := attendance.PolicyFromConfig(cfg)
	if err != nil {
		return err
	}
	filter, err := recordFilter(cmd, policy, time.Now())
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.store.Summary(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(summary)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tRECORDS\tCOMPLETED\tHOURS")
	total := 0.0
	for _, s := range summary {
		total += s.TotalHours
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\n", s.Identity, s.DisplayName, s.Records, s.CompletedSessions, s.TotalHours)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %.2f hours between %s and %s\n", total, filter.From, filter.To)
	return nil
}

func runAttendanceStatus(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.machine.Status(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(st)
	}
	fmt.Printf("%s on %s: %s", st.Identity, st.BusinessDay, st.State)
	if st.Record != nil {
		fmt.Printf(" (session %d, %.2f hours)", st.Record.Seq, st.Hours)
	}
	fmt.Println()
	return nil
}

func runAttendanceCheckin(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.machine.ForceCheckIn(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(out)
	}
	fmt.Printf("%s: %s\n", out.Kind, out.Message)
	if out.Kind != attendance.KindCheckedIn {
		return fmt.Errorf("check-in refused: %s", out.Reason)
	}
	return nil
}

// CloseDayResult reports a close-day run.
type CloseDayResult struct {
	Day      string               `json:"day"`
	Closed   int                  `json:"closed"`
	Outcomes []attendance.Outcome `json:"outcomes"`
}

func runAttendanceCloseDay(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	day, err := getDay(cmd, "day")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	result := CloseDayResult{Day: a.machine.BusinessDay(now)}
	if !day.IsZero() {
		result.Day = day.Format(constants.DayLayout)
	}
	result.Outcomes, err = a.machine.CloseOpen(ctx, result.Day, now)
	result.Closed = len(result.Outcomes)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(result)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tHOURS")
	for _, out := range result.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%.2f\n", out.Identity, out.DisplayName, out.Hours)
	}
	w.Flush()
	fmt.Printf("\nClosed %d open records of %s\n", result.Closed, result.Day)
	return nil
}

func runAttendanceCheckout(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.machine.ForceCheckOut(ctx, args[0], time.Now())
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(out)
	}
	fmt.Printf("%s: %s\n", out.Kind, out.Message)
	if out.Kind != attendance.KindCheckedOut {
		return fmt.Errorf("checkout refused: %s", out.Reason)
	}
	return nil
}

func runAttendanceExport(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	all := mustGetBool(cmd, "all")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if !a.agent.Online() {
		return syncagent.ErrOffline
	}

	start := time.Now()
	result := ExportResult{}
	var exportErr error
	for {
		n, err := a.agent.Export(ctx, newProgress(jsonOutput, "Exporting attendance", "records"))
		result.Exported += n
		result.Batches++
		if err != nil {
			exportErr = err
			break
		}
		if !all || n < cfg.Sync.ExportBatchSize {
			break
		}
	}

	elapsed := time.Since(start)
	result.Success = exportErr == nil
	result.DurationMs = elapsed.Milliseconds()
	result.DurationHuman = formatDuration(elapsed)
	if exportErr != nil {
		result.Error = exportErr.Error()
	}
	if jsonOutput {
		if err := outputJSON(result); err != nil {
			return err
		}
		return exportErr
	}
	if exportErr != nil {
		return exportErr
	}
	fmt.Printf("Exported %d records in %d batches (%s)\n", result.Exported, result.Batches, result.DurationHuman)
	return nil
}
