package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/web"
	"github.com/kozaktomas/facegate/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kiosk web server",
	Long: `Start the attendance terminal.

Loads the local template cache, starts the background sync agent (unless
SYNC_DISABLED is set or REMOTE_URL is empty) and serves the kiosk and
operator HTTP API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Sync.Disabled {
		a.log.Warn().Msg("background sync disabled")
	} else if a.agent.Online() {
		a.agent.Start(ctx)
		defer a.agent.Stop()
	}
	go pruneCooldown(ctx, a)

	server := web.NewServer(cfg, web.Deps{
		Pipeline: a.pipeline,
		Machine:  a.machine,
		Ledger:   a.store,
		Sync:     a.agent,
		Info: handlers.SystemInfo{
			TerminalID:    cfg.Terminal.ID,
			Driver:        a.store.Driver(),
			Finder:        a.matcher.FinderName(),
			Tolerances:    a.matcher.Tolerances(),
			InstantMode:   cfg.Attendance.InstantMode,
			CooldownSec:   cfg.Attendance.CooldownWindow.Seconds(),
			MinimumWorkMn: cfg.Attendance.MinimumWorkDuration.Minutes(),
		},
		Clock: time.Now,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	fmt.Printf("Starting attendance terminal %s on http://%s:%d\n", cfg.Terminal.ID, cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Templates loaded: %d, finder: %s, database: %s\n", a.faces.Len(), a.matcher.FinderName(), a.store.Driver())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// pruneCooldown drops expired cooldown entries once per window.
func pruneCooldown(ctx context.Context, a *app) {
	interval := max(a.cooldown.Window(), time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.cooldown.Prune(now); n > 0 {
				a.log.Debug().Int("entries", n).Msg("cooldown pruned")
			}
		}
	}
}
