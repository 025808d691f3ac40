package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/constants"
)

// mustFlag reads a flag defined in init(). A lookup error is a programming
// bug, so it panics instead of returning.
func mustFlag[T any](cmd *cobra.Command, name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustFlag(cmd, name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustFlag(cmd, name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustFlag(cmd, name, cmd.Flags().GetString)
}

// getDay parses a YYYY-MM-DD business day flag. An empty value returns the zero time.
func getDay(cmd *cobra.Command, name string) (time.Time, error) {
	s := mustGetString(cmd, name)
	if s == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse(constants.DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q, expected YYYY-MM-DD", name, s)
	}
	return day, nil
}
