package database

import "strings"

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// Where renders the filter as a SQL condition over attendance_records columns.
// Returns an empty string when the filter matches everything.
func (f RecordFilter) Where(ph Placeholder) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", ph(len(args)), 1))
	}
	if f.From != "" {
		add("business_day >= ?", f.From)
	}
	if f.To != "" {
		add("business_day <= ?", f.To)
	}
	if f.Identity != "" {
		add("identity = ?", f.Identity)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
