package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/cooldown"
	"github.com/kozaktomas/facegate/internal/database"
	_ "github.com/kozaktomas/facegate/internal/database/postgres" // registers the postgres backend
	_ "github.com/kozaktomas/facegate/internal/database/sqlite"   // registers the sqlite backend
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/facestore"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/matcher"
	"github.com/kozaktomas/facegate/internal/pipeline"
	"github.com/kozaktomas/facegate/internal/remote"
	"github.com/kozaktomas/facegate/internal/syncagent"
)

// app holds the wired terminal components shared by the commands.
type app struct {
	cfg      *config.Config
	store    database.Store
	faces    *facestore.Store
	agent    *syncagent.Agent
	remote   *remote.Client
	matcher  *matcher.Matcher
	cooldown *cooldown.Ledger
	machine  *attendance.Machine
	pipeline *pipeline.Pipeline
	log      *logger.Logger
}

// openStorage opens the local database, the template cache and the sync agent.
// Commands that do not recognize faces stop here.
func openStorage(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Component("cli")

	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	var client *remote.Client
	if cfg.Remote.URL != "" {
		client, err = remote.NewFromConfig(&cfg.Remote)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("remote client: %w", err)
		}
	} else {
		log.Warn().Msg("REMOTE_URL not set, running offline")
	}

	faces := facestore.New()
	agent := syncagent.NewWithClient(client, store, faces, syncagent.OptionsFromConfig(cfg))
	if _, err := agent.LoadCache(ctx); err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		store:  store,
		faces:  faces,
		agent:  agent,
		remote: client,
		log:    log,
	}, nil
}

// openApp opens storage and wires the recognition stack on top of it.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.matcher, err = matcher.NewFromConfig(a.faces, cfg.Recognition)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy, err := attendance.PolicyFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.machine = attendance.New(a.store, policy, attendance.WithNames(a.displayName))
	a.cooldown = cooldown.New(cfg.Attendance.CooldownWindow)

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Extractor:  extractor.NewFromConfig(&cfg.Extractor),
		Matcher:    a.matcher,
		Cooldown:   a.cooldown,
		Attendance: a.machine,
		Faces:      a.faces,
		Enroller:   a.agent,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) displayName(identity string) string {
	if t, ok := a.faces.Get(identity); ok {
		return t.DisplayName
	}
	return ""
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("closing database")
	}
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// newProgress returns a progress callback drawing a bar, or nil when the
// output is JSON. The bar is created on the first call, once the total is known.
func newProgress(jsonOutput bool, description, unit string) func(done, total int) {
	if jsonOutput {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString(unit),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
			fmt.Println()
		}
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
