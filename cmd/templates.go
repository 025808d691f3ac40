package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage the local face template cache",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached face templates",
	RunE:  runTemplatesList,
}

var templatesPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local template cache with the remote template set",
	Long: `Fetch all active face templates from the business system and replace the
local cache with them. Local enrollments that were not pushed yet are kept.

Examples:
  facegate templates pull
  facegate templates pull --json`,
	RunE: runTemplatesPull,
}

var templatesPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push locally enrolled templates to the business system",
	RunE:  runTemplatesPush,
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	templatesCmd.AddCommand(templatesListCmd, templatesPullCmd, templatesPushCmd)

	templatesListCmd.Flags().Bool("json", false, "Output as JSON")
	templatesPullCmd.Flags().Bool("json", false, "Output as JSON")
	templatesPushCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

// TemplateListEntry is one row of templates list.
type TemplateListEntry struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Dimension   int       `json:"dimension"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateSyncResult reports a pull or push.
type TemplateSyncResult struct {
	Success       bool   `json:"success"`
	Templates     int    `json:"templates"`
	Error         string `json:"error,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	DurationHuman string `json:"duration_human,omitempty"`
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
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

	templates := a.faces.Snapshot().Templates()
	entries := make([]TemplateListEntry, 0, len(templates))
	for _, t := range templates {
		entries = append(entries, TemplateListEntry{
			Identity:    t.Identity,
			DisplayName: t.DisplayName,
			Dimension:   len(t.Embedding),
			UpdatedAt:   t.UpdatedAt,
		})
	}
	if jsonOutput {
		return outputJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tNAME\tDIM\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Identity, e.DisplayName, e.Dimension, e.UpdatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d templates\n", len(entries))
	return nil
}

func runTemplatesPull(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
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

	start := time.Now()
	if !jsonOutput {
		fmt.Printf("Fetching templates from %s...\n", cfg.Remote.URL)
	}
	n, err := a.agent.Pull(ctx)
	return reportSync(jsonOutput, "Templates loaded", n, start, err)
}

func runTemplatesPush(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
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

	start := time.Now()
	n, err := a.agent.PushPending(ctx, newProgress(jsonOutput, "Pushing enrollments", "templates"))
	return reportSync(jsonOutput, "Templates pushed", n, start, err)
}

func reportSync(jsonOutput bool, label string, n int, start time.Time, err error) error {
	elapsed := time.Since(start)
	if jsonOutput {
		result := TemplateSyncResult{
			Success:       err == nil,
			Templates:     n,
			DurationMs:    elapsed.Milliseconds(),
			DurationHuman: formatDuration(elapsed),
		}
		if err != nil {
			result.Error = err.Error()
		}
		if jsonErr := outputJSON(result); jsonErr != nil {
			return jsonErr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d (%s)\n", label, n, formatDuration(elapsed))
	return nil
}
