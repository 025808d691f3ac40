package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>",
	Short: "Enroll a person from a photo",
	Long: `Extract the single face on the photo and store it as the template of the
given identity. The template is usable at once and queued for the business
system; it is pushed by the next sync.

Examples:
  facegate enroll --identity E42 --name "Eva Nováková" eva.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("identity", "", "Identity (employee id) of the person")
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().Bool("push", false, "Push to the business system right away")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("identity")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identity := mustGetString(cmd, "identity")
	name := mustGetString(cmd, "name")
	push := mustGetBool(cmd, "push")
	jsonOutput := mustGetBool(cmd, "json")

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
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

	t, err := a.pipeline.Enroll(ctx, identity, name, image, time.Now())
	if err != nil {
		return err
	}
	if push {
		if _, err := a.agent.PushPending(ctx, nil); err != nil {
			a.log.Warn().Err(err).Msg("push failed, the enrollment stays queued")
		}
	}

	if jsonOutput {
		return outputJSON(t)
	}
	fmt.Printf("Enrolled %s (%s), embedding dimension %d\n", t.Identity, t.DisplayName, len(t.Embedding))
	return nil
}
