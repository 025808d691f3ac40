package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

const recordColumns = `id, identity, display_name, business_day, seq, check_in, check_out, terminal_id, exported_at`

func question(int) string { return "?" }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*database.AttendanceRecord, error) {
	var (
		rec                database.AttendanceRecord
		checkIn            string
		checkOut, exported sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Identity, &rec.DisplayName, &rec.BusinessDay, &rec.Seq,
		&checkIn, &checkOut, &rec.TerminalID, &exported); err != nil {
		return nil, err
	}
	var err error
	if rec.CheckIn, err = parseTime(checkIn); err != nil {
		return nil, err
	}
	if rec.CheckOut, err = parseNullTime(checkOut); err != nil {
		return nil, err
	}
	if rec.ExportedAt, err = parseNullTime(exported); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]database.AttendanceRecord, error) {
	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

// LatestRecord returns the highest-sequence record of an identity on a day.
func (s *Store) LatestRecord(ctx context.Context, identity, businessDay string) (*database.AttendanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE identity = ? AND business_day = ?
		ORDER BY seq DESC
		LIMIT 1
	`, identity, businessDay)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest record: %w", err)
	}
	return rec, nil
}

// OpenRecord inserts a new open record with the next sequence number.
func (s *Store) OpenRecord(ctx context.Context, rec database.AttendanceRecord) (*database.AttendanceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var maxSeq, open int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0), COALESCE(SUM(CASE WHEN check_out IS NULL THEN 1 ELSE 0 END), 0)
		FROM attendance_records
		WHERE identity = ? AND business_day = ?
	`, rec.Identity, rec.BusinessDay).Scan(&maxSeq, &open)
	if err != nil {
		return nil, fmt.Errorf("query open records: %w", err)
	}
	if open > 0 {
		return nil, database.ErrOpenRecordExists
	}

	rec.ID = 0
	rec.Seq = maxSeq + 1
	rec.CheckOut = nil
	rec.ExportedAt = nil
	if err := database.ValidateRecord(rec); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_records (identity, display_name, business_day, seq, check_in, terminal_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Identity, rec.DisplayName, rec.BusinessDay, rec.Seq, formatTime(rec.CheckIn), rec.TerminalID)
	if isUniqueViolation(err) {
		return nil, database.ErrOpenRecordExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("read record id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance record: %w", err)
	}
	return &rec, nil
}

// CloseRecord sets the check-out of an open record.
func (s *Store) CloseRecord(ctx context.Context, identity, businessDay string, seq int, checkOut time.Time) (*database.AttendanceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rec, err := scanRecord(tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE identity = ? AND business_day = ? AND seq = ?
	`, identity, businessDay, seq))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrRecordNotOpen
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	if !rec.IsOpen() {
		return nil, database.ErrRecordNotOpen
	}

	rec.CheckOut = &checkOut
	if err := database.ValidateRecord(*rec); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE attendance_records
		SET check_out = ?, duration_seconds = ?
		WHERE id = ? AND check_out IS NULL
	`, formatTime(checkOut), rec.Duration().Seconds(), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update attendance record: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("read affected rows: %w", err)
	} else if n == 0 {
		return nil, database.ErrRecordNotOpen
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance record: %w", err)
	}
	return rec, nil
}

// ListRecords returns records matching the filter.
func (s *Store) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	where, args := filter.Where(question)
	query := `SELECT ` + recordColumns + ` FROM attendance_records ` + where +
		` ORDER BY business_day, identity, seq`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// OpenRecords returns the records of a day that are still checked in.
func (s *Store) OpenRecords(ctx context.Context, businessDay string) ([]database.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE business_day = ? AND check_out IS NULL
		ORDER BY identity, seq
	`, businessDay)
	if err != nil {
		return nil, fmt.Errorf("query open records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Summary aggregates records per identity.
func (s *Store) Summary(ctx context.Context, filter database.RecordFilter) ([]database.IdentitySummary, error) {
	where, args := filter.Where(question)
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, MAX(display_name), COUNT(*),
		       SUM(CASE WHEN check_out IS NOT NULL THEN 1 ELSE 0 END),
		       COALESCE(SUM(duration_seconds), 0)
		FROM attendance_records `+where+`
		GROUP BY identity
		ORDER BY identity
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance summary: %w", err)
	}
	defer rows.Close()

	var out []database.IdentitySummary
	for rows.Next() {
		var (
			sum     database.IdentitySummary
			seconds float64
		)
		if err := rows.Scan(&sum.Identity, &sum.DisplayName, &sum.Records, &sum.CompletedSessions, &seconds); err != nil {
			return nil, fmt.Errorf("scan attendance summary: %w", err)
		}
		sum.TotalHours = database.RoundHours(time.Duration(seconds * float64(time.Second)))
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance summary: %w", err)
	}
	return out, nil
}

// PendingExport returns closed records not yet exported, oldest first.
func (s *Store) PendingExport(ctx context.Context, limit int) ([]database.AttendanceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE check_out IS NOT NULL AND exported_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending export: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkExported flags records as exported.
func (s *Store) MarkExported(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET exported_at = ?
		WHERE exported_at IS NULL AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("mark records exported: %w", err)
	}
	return nil
}
