// Package syncagent keeps the terminal in step with the remote authority:
// it pulls face templates, pushes local enrollments and exports closed
// attendance records. Recognition never waits for it.
package syncagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facestore"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/remote"
)

// ErrOffline is returned by network operations when no remote is configured.
var ErrOffline = errors.New("remote authority not configured")

// Remote is the subset of the remote client used by the agent.
type Remote interface {
	FetchTemplates(ctx context.Context) ([]database.FaceTemplate, error)
	PushTemplate(ctx context.Context, t database.FaceTemplate) error
	ExportAttendance(ctx context.Context, rec database.AttendanceRecord) error
}

// Storage is the terminal-local persistence the agent reads and writes.
type Storage interface {
	database.LedgerWriter
	database.TemplateRepository
	database.EnrollmentQueue
}

// State is the observable sync status.
type State struct {
	LastPullAt          time.Time `json:"last_pull_at,omitzero"`
	LastPushAt          time.Time `json:"last_push_at,omitzero"`
	LastExportAt        time.Time `json:"last_export_at,omitzero"`
	Reachable           bool      `json:"reachable"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TemplateCount       int       `json:"template_count"`
	PendingExports      int       `json:"pending_exports"`
	Running             bool      `json:"running"`
	RemoteURL           string    `json:"remote_url,omitempty"`
}

// Options configures an Agent.
type Options struct {
	Interval        time.Duration
	RequestTimeout  time.Duration
	ExportBatchSize int
	RemoteURL       string
	Clock           func() time.Time
	Logger          *logger.Logger
}

// OptionsFromConfig maps the sync and remote configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:        cfg.Sync.Interval,
		RequestTimeout:  cfg.Remote.Timeout,
		ExportBatchSize: cfg.Sync.ExportBatchSize,
		RemoteURL:       cfg.Remote.URL,
	}
}

// Agent runs sync cycles on a timer and on demand.
type Agent struct {
	remote  Remote
	storage Storage
	faces   *facestore.Store
	opts    Options
	log     *logger.Logger

	runMu sync.Mutex // one cycle at a time

	mu    sync.RWMutex
	state State

	trigger  chan struct{}
	lifeMu   sync.Mutex
	cancel   context.CancelFunc
	finished chan struct{}
}

// New creates an agent. A nil remote puts the agent in offline mode: local
// enrollments are still queued and pushed once a remote is available.
func New(r Remote, storage Storage, faces *facestore.Store, opts Options) *Agent {
	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultSyncInterval
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = constants.DefaultRequestTimeout
	}
	if opts.ExportBatchSize <= 0 {
		opts.ExportBatchSize = constants.DefaultExportBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Component("sync")
	}
	a := &Agent{
		remote:  r,
		storage: storage,
		faces:   faces,
		opts:    opts,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
	a.state.RemoteURL = opts.RemoteURL
	a.state.TemplateCount = faces.Len()
	return a
}

// NewWithClient wires the HTTP remote client, which may be nil.
func NewWithClient(c *remote.Client, storage Storage, faces *facestore.Store, opts Options) *Agent {
	if c == nil {
		return New(nil, storage, faces, opts)
	}
	return New(c, storage, faces, opts)
}

// Online reports whether a remote is configured.
func (a *Agent) Online() bool { return a.remote != nil }

// State returns a copy of the current sync status.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := a.state
	st.TemplateCount = a.faces.Len()
	return st
}

// LoadCache fills the face store from the local template cache so the
// terminal recognizes people before the first successful pull.
func (a *Agent) LoadCache(ctx context.Context) (int, error) {
	templates, err := a.storage.ListTemplates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load template cache: %w", err)
	}
	merged, err := a.overlayPending(ctx, activeOnly(templates))
	if err != nil {
		return 0, err
	}
	snap := a.faces.Replace(merged, a.opts.Clock())
	a.log.Info().Int("templates", snap.Len()).Msg("template cache loaded")
	return snap.Len(), nil
}

// Pull replaces the face store with the remote template set.
func (a *Agent) Pull(ctx context.Context) (int, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	n, step := a.pull(ctx)
	a.record(step)
	return n, step.err
}

// PushPending pushes every unacknowledged local enrollment.
func (a *Agent) PushPending(ctx context.Context, progress func(done, total int)) (int, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	n, step := a.pushPending(ctx, progress)
	a.record(step)
	return n, step.err
}

// Export sends closed, unexported attendance records, one batch.
func (a *Agent) Export(ctx context.Context, progress func(done, total int)) (int, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	n, step := a.export(ctx, progress)
	a.record(step)
	return n, step.err
}

// Push uploads one template directly, outside the enrollment queue.
func (a *Agent) Push(ctx context.Context, t database.FaceTemplate) error {
	if a.remote == nil {
		return ErrOffline
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()
	err := a.remote.PushTemplate(ctx, t)
	step := stepResult{called: true, err: err}
	if err == nil {
		step.apply = func(s *State, now time.Time) { s.LastPushAt = now }
	}
	a.record(step)
	return err
}

// RunOnce performs one full cycle: push pending enrollments, pull templates,
// export attendance. Each step runs even when an earlier one failed. The
// cycle counts as one success or one failure in State.
func (a *Agent) RunOnce(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.remote == nil {
		return ErrOffline
	}

	_, push := a.pushPending(ctx, nil)
	_, pull := a.pull(ctx)
	_, export := a.export(ctx, nil)
	a.record(push, pull, export)
	return errors.Join(push.err, pull.err, export.err)
}

// Enroll stores a new template locally, makes it matchable at once and
// queues it for the remote.
func (a *Agent) Enroll(ctx context.Context, t database.FaceTemplate) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = a.opts.Clock()
	}
	if t.Status == "" {
		t.Status = database.TemplateStatusActive
	}
	if err := database.ValidateTemplate(t); err != nil {
		return err
	}
	if err := a.storage.UpsertTemplate(ctx, t); err != nil {
		return fmt.Errorf("cache template %s: %w", t.Identity, err)
	}
	if _, err := a.storage.Enqueue(ctx, t); err != nil {
		return fmt.Errorf("queue template %s: %w", t.Identity, err)
	}
	a.faces.Upsert(t, a.opts.Clock())
	a.log.Info().Str("identity", t.Identity).Msg("enrolled locally")
	a.Trigger()
	return nil
}

// Trigger requests a cycle without waiting for it. Requests coalesce.
func (a *Agent) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// Start runs cycles in the background until Stop or ctx cancellation.
func (a *Agent) Start(ctx context.Context) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.finished = make(chan struct{})
	a.setRunning(true)

	go func() {
		defer close(a.finished)
		defer a.setRunning(false)
		a.loop(ctx)
	}()
}

// Stop cancels the background loop and waits for the running cycle to end.
func (a *Agent) Stop() {
	a.lifeMu.Lock()
	cancel, finished := a.cancel, a.finished
	a.cancel, a.finished = nil, nil
	a.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-finished
}

func (a *Agent) loop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	a.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		case <-a.trigger:
			a.cycle(ctx)
		}
	}
}

func (a *Agent) cycle(ctx context.Context) {
	if a.remote == nil {
		return
	}
	if err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn().Err(err).Int("failures", a.State().ConsecutiveFailures).Msg("sync cycle failed")
	}
}

func (a *Agent) pull(ctx context.Context) (int, stepResult) {
	if a.remote == nil {
		return 0, stepResult{err: ErrOffline}
	}
	reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	templates, err := a.remote.FetchTemplates(reqCtx)
	cancel()
	active := activeOnly(templates)
	if err == nil {
		err = database.ValidateTemplates(active)
	}
	if err != nil {
		return 0, stepResult{called: true, err: fmt.Errorf("pull templates: %w", err)}
	}

	merged, err := a.overlayPending(ctx, active)
	if err != nil {
		return 0, stepResult{local: true, err: err}
	}

	now := a.opts.Clock()
	snap := a.faces.Replace(merged, now)
	if err := a.storage.ReplaceTemplates(ctx, snap.Templates()); err != nil {
		a.log.Warn().Err(err).Msg("template cache not refreshed")
	}
	a.log.Info().Int("templates", snap.Len()).Int("received", len(templates)).Msg("templates pulled")
	return snap.Len(), stepResult{called: true, apply: func(s *State, now time.Time) { s.LastPullAt = now }}
}

// overlayPending adds local enrollments the remote has not acknowledged yet.
// Newest UpdatedAt wins per identity.
func (a *Agent) overlayPending(ctx context.Context, templates []database.FaceTemplate) ([]database.FaceTemplate, error) {
	pending, err := a.storage.ListPendingEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending enrollments: %w", err)
	}
	if len(pending) == 0 {
		return templates, nil
	}
	index := make(map[string]int, len(templates))
	for i, t := range templates {
		index[t.Identity] = i
	}
	for _, p := range pending {
		t := p.Template
		if i, ok := index[t.Identity]; ok {
			if t.UpdatedAt.After(templates[i].UpdatedAt) {
				templates[i] = t
			}
			continue
		}
		index[t.Identity] = len(templates)
		templates = append(templates, t)
	}
	if err := database.ValidateTemplates(templates); err != nil {
		return nil, fmt.Errorf("overlay pending enrollments: %w", err)
	}
	return templates, nil
}

func (a *Agent) pushPending(ctx context.Context, progress func(done, total int)) (int, stepResult) {
	if a.remote == nil {
		return 0, stepResult{err: ErrOffline}
	}
	pending, err := a.storage.ListPendingEnrollments(ctx)
	if err != nil {
		return 0, stepResult{local: true, err: fmt.Errorf("list pending enrollments: %w", err)}
	}

	pushed := 0
	var errs []error
	for i, p := range pending {
		reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
		err := a.remote.PushTemplate(reqCtx, p.Template)
		cancel()
		if err != nil {
			errs = append(errs, err)
			if markErr := a.storage.MarkFailed(ctx, p.ID, err.Error()); markErr != nil {
				a.log.Error().Err(markErr).Str("enrollment", p.ID).Msg("could not record push failure")
			}
			a.log.Warn().Err(err).Str("identity", p.Template.Identity).Int("attempts", p.Attempts+1).Msg("push failed")
		} else {
			if markErr := a.storage.MarkPushed(ctx, p.ID, a.opts.Clock()); markErr != nil {
				errs = append(errs, fmt.Errorf("mark pushed %s: %w", p.ID, markErr))
			} else {
				pushed++
			}
		}
		if progress != nil {
			progress(i+1, len(pending))
		}
	}

	step := stepResult{called: len(pending) > 0, err: errors.Join(errs...)}
	if step.err == nil {
		step.apply = func(s *State, now time.Time) { s.LastPushAt = now }
	}
	return pushed, step
}

func (a *Agent) export(ctx context.Context, progress func(done, total int)) (int, stepResult) {
	if a.remote == nil {
		return 0, stepResult{err: ErrOffline}
	}
	records, err := a.storage.PendingExport(ctx, a.opts.ExportBatchSize)
	if err != nil {
		return 0, stepResult{local: true, err: fmt.Errorf("list pending exports: %w", err)}
	}
	if len(records) == 0 {
		return 0, stepResult{}
	}

	acked := make([]int64, 0, len(records))
	var errs []error
	for i, rec := range records {
		reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
		err := a.remote.ExportAttendance(reqCtx, rec)
		cancel()
		if err != nil {
			errs = append(errs, err)
		} else {
			acked = append(acked, rec.ID)
		}
		if progress != nil {
			progress(i+1, len(records))
		}
	}
	if len(acked) > 0 {
		if err := a.storage.MarkExported(ctx, acked, a.opts.Clock()); err != nil {
			errs = append(errs, fmt.Errorf("mark exported: %w", err))
		}
	}

	remaining := len(records) - len(acked)
	a.log.Info().Int("exported", len(acked)).Int("failed", remaining).Msg("attendance exported")
	err = errors.Join(errs...)
	return len(acked), stepResult{
		called: true,
		err:    err,
		apply: func(s *State, now time.Time) {
			s.PendingExports = remaining
			if err == nil {
				s.LastExportAt = now
			}
		},
	}
}

// stepResult is the outcome of one sync step. called is set when the remote
// was contacted; local marks failures of terminal storage.
type stepResult struct {
	called bool
	local  bool
	err    error
	apply  func(s *State, now time.Time)
}

// record folds the steps of one cycle into State. Steps that neither
// contacted the remote nor failed leave it untouched. apply runs for every
// step that contacted the remote; any failure counts the cycle as one
// consecutive failure.
func (a *Agent) record(steps ...stepResult) {
	now := a.opts.Clock()
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	touched, reachable, contacted := false, true, false
	for _, st := range steps {
		switch {
		case errors.Is(st.err, ErrOffline):
			continue
		case st.err != nil:
			touched = true
			errs = append(errs, st.err)
			if !st.local {
				contacted = true
				reachable = reachable && answered(st.err)
			}
		case st.called:
			touched, contacted = true, true
		}
		if st.called && st.apply != nil {
			st.apply(&a.state, now)
		}
	}
	if !touched {
		return
	}
	if contacted {
		a.state.Reachable = reachable
	}
	if len(errs) > 0 {
		a.state.LastError = errors.Join(errs...).Error()
		a.state.ConsecutiveFailures++
		return
	}
	a.state.LastError = ""
	a.state.ConsecutiveFailures = 0
}

func (a *Agent) setRunning(running bool) {
	a.mu.Lock()
	a.state.Running = running
	a.mu.Unlock()
}

// answered reports whether err came back from a remote that did respond.
func answered(err error) bool {
	var se *remote.StatusError
	return errors.As(err, &se) || errors.Is(err, remote.ErrMalformedPayload) || errors.Is(err, database.ErrInvalidTemplate)
}

func activeOnly(templates []database.FaceTemplate) []database.FaceTemplate {
	out := make([]database.FaceTemplate, 0, len(templates))
	for _, t := range templates {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out
}
