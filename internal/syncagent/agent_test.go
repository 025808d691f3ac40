package syncagent

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/facestore"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/matcher"
	"github.com/kozaktomas/facegate/internal/remote"
)

type fakeRemote struct {
	mu        sync.Mutex
	templates []database.FaceTemplate
	fetchErr  error
	pushErr   error
	publish   bool // pushed templates become part of the fetched set
	exportErr map[string]error
	pushed    []database.FaceTemplate
	exported  []database.AttendanceRecord
	calls     []string
}

func (f *fakeRemote) FetchTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch")
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]database.FaceTemplate, len(f.templates))
	for i, t := range f.templates {
		out[i] = t.Clone()
	}
	return out, nil
}

func (f *fakeRemote) PushTemplate(ctx context.Context, t database.FaceTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "push")
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, t)
	if f.publish {
		f.templates = slices.DeleteFunc(f.templates, func(e database.FaceTemplate) bool { return e.Identity == t.Identity })
		f.templates = append(f.templates, t.Clone())
	}
	return nil
}

func (f *fakeRemote) ExportAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "export")
	if err := f.exportErr[rec.Identity]; err != nil {
		return err
	}
	f.exported = append(f.exported, rec)
	return nil
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func tpl(identity string, status string, v ...float32) database.FaceTemplate {
	return database.FaceTemplate{Identity: identity, DisplayName: "Name " + identity, Embedding: v, Status: status, UpdatedAt: t0}
}

func newAgent(t *testing.T, r Remote) (*Agent, *mock.MockStore, *facestore.Store) {
	t.Helper()
	store := mock.NewMockStore()
	faces := facestore.New()
	a := New(r, store, faces, Options{
		Interval:       time.Hour,
		RequestTimeout: time.Second,
		RemoteURL:      "http://authority.local",
		Clock:          func() time.Time { return t0 },
		Logger:         logger.Nop(),
	})
	return a, store, faces
}

func TestPull_ReplacesStoreWithActiveTemplates(t *testing.T) {
	r := &fakeRemote{templates: []database.FaceTemplate{
		tpl("A", "active", 1, 0),
		tpl("B", "", 0, 1),
		tpl("C", "inactive", 1, 1),
	}}
	a, store, faces := newAgent(t, r)
	faces.Replace([]database.FaceTemplate{tpl("OLD", "active", 1, 1)}, t0)

	n, err := a.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if n != 2 || faces.Len() != 2 {
		t.Fatalf("expected 2 active templates, got %d/%d", n, faces.Len())
	}
	if _, ok := faces.Get("OLD"); ok {
		t.Error("templates missing from the remote must be removed")
	}
	if _, ok := faces.Get("C"); ok {
		t.Error("inactive template must not be matchable")
	}
	cached, _ := store.ListTemplates(context.Background())
	if len(cached) != 2 {
		t.Errorf("expected template cache refresh, got %d", len(cached))
	}

	st := a.State()
	if !st.Reachable || st.ConsecutiveFailures != 0 || !st.LastPullAt.Equal(t0) || st.TemplateCount != 2 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestPull_FailuresKeepStore(t *testing.T) {
	r := &fakeRemote{fetchErr: errors.New("connection refused")}
	a, _, faces := newAgent(t, r)
	faces.Replace([]database.FaceTemplate{tpl("A", "active", 1, 0)}, t0)
	before := faces.Snapshot()

	for range 3 {
		if _, err := a.Pull(context.Background()); err == nil {
			t.Fatal("expected pull error")
		}
	}
	st := a.State()
	if st.ConsecutiveFailures != 3 || st.Reachable || st.LastError == "" {
		t.Errorf("unexpected state after failures %+v", st)
	}
	if faces.Snapshot() != before {
		t.Error("failed pulls must not replace the store")
	}

	r.set(func(f *fakeRemote) {
		f.fetchErr = nil
		f.templates = []database.FaceTemplate{tpl("B", "active", 0, 1)}
	})
	if _, err := a.Pull(context.Background()); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if st := a.State(); st.ConsecutiveFailures != 0 || !st.Reachable || st.LastError != "" {
		t.Errorf("success must reset failure state, got %+v", st)
	}
}

func TestRunOnce_PullFailuresRecorded(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{templates: []database.FaceTemplate{tpl("A", "active", 1, 0)}}
	a, _, faces := newAgent(t, r)
	m, err := matcher.New(faces, matcher.NewLinearFinder(database.EuclideanDistance), []float64{0.6})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	r.set(func(f *fakeRemote) { f.fetchErr = errors.New("connection refused") })
	for range 3 {
		if err := a.RunOnce(ctx); err == nil {
			t.Fatal("expected cycle error")
		}
	}

	st := a.State()
	if st.Reachable {
		t.Error("unreachable remote reported as reachable")
	}
	if st.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failed cycles, got %d", st.ConsecutiveFailures)
	}
	if st.LastError == "" {
		t.Error("expected last error to be kept")
	}
	if !st.LastExportAt.IsZero() {
		t.Errorf("nothing was exported, got LastExportAt %v", st.LastExportAt)
	}
	if match, ok := m.Identify([]float32{1, 0}); !ok || match.Identity != "A" {
		t.Errorf("last pulled set must stay matchable, got %+v %v", match, ok)
	}
}

func TestPull_IgnoresMalformedInactiveTemplates(t *testing.T) {
	r := &fakeRemote{templates: []database.FaceTemplate{
		tpl("A", "active", 1, 0),
		tpl("OLD", "inactive", 1, 0, 0),
		{Identity: "GONE", Status: "inactive"},
	}}
	a, _, faces := newAgent(t, r)

	n, err := a.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if n != 1 || faces.Len() != 1 {
		t.Errorf("expected only the active template, got %d", faces.Len())
	}
}

func TestPull_MalformedPayload(t *testing.T) {
	r := &fakeRemote{templates: []database.FaceTemplate{
		tpl("A", "active", 1, 0),
		tpl("B", "active", 1, 0, 0),
	}}
	a, _, faces := newAgent(t, r)
	faces.Replace([]database.FaceTemplate{tpl("KEEP", "active", 1, 0)}, t0)

	if _, err := a.Pull(context.Background()); !errors.Is(err, database.ErrInvalidTemplate) {
		t.Fatalf("expected invalid template error, got %v", err)
	}
	if _, ok := faces.Get("KEEP"); !ok || faces.Len() != 1 {
		t.Error("malformed payload must keep the current store")
	}
	if !a.State().Reachable {
		t.Error("a malformed answer still means the remote is reachable")
	}

	r.set(func(f *fakeRemote) { f.fetchErr = &remote.StatusError{Code: 500} })
	a.Pull(context.Background())
	if st := a.State(); !st.Reachable || st.ConsecutiveFailures != 2 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestEnroll_UnackedOverlay(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{
		templates: []database.FaceTemplate{tpl("A", "active", 1, 0)},
		pushErr:   errors.New("timeout"),
	}
	a, store, faces := newAgent(t, r)

	local := tpl("NEW", "", 0, 1)
	local.UpdatedAt = t0.Add(time.Minute)
	if err := a.Enroll(ctx, local); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if _, ok := faces.Get("NEW"); !ok {
		t.Fatal("enrolled template must be matchable immediately")
	}

	if err := a.RunOnce(ctx); err == nil {
		t.Fatal("expected push error")
	}
	if _, ok := faces.Get("NEW"); !ok {
		t.Fatal("unacknowledged enrollment must survive a pull")
	}
	if faces.Len() != 2 {
		t.Errorf("expected remote + local template, got %d", faces.Len())
	}
	pending, _ := store.ListPendingEnrollments(ctx)
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError == "" {
		t.Errorf("failed push must stay queued, got %+v", pending)
	}

	// Remote accepts the push but has not published the template yet.
	r.set(func(f *fakeRemote) { f.pushErr = nil })
	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(r.pushed) != 1 || r.pushed[0].Identity != "NEW" {
		t.Errorf("expected NEW pushed, got %+v", r.pushed)
	}
	if _, ok := faces.Get("NEW"); ok {
		t.Error("acknowledged enrollment follows the remote set")
	}
}

func TestEnroll_PushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{publish: true, templates: []database.FaceTemplate{tpl("A", "active", 1, 0)}}
	a, store, faces := newAgent(t, r)
	m, err := matcher.New(faces, matcher.NewLinearFinder(database.EuclideanDistance), []float64{0.6})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Enroll(ctx, tpl("NEW", "", 0, 1)); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	for range 2 {
		if err := a.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
	}

	if pending, _ := store.ListPendingEnrollments(ctx); len(pending) != 0 {
		t.Errorf("pushed enrollment must leave the queue, got %+v", pending)
	}
	if _, ok := faces.Get("NEW"); !ok {
		t.Fatal("published enrollment must come back with the pull")
	}
	if faces.Len() != 2 {
		t.Errorf("expected 2 templates, got %d", faces.Len())
	}
	match, ok := m.Identify([]float32{0, 1})
	if !ok || match.Identity != "NEW" {
		t.Errorf("expected NEW to match after the round trip, got %+v %v", match, ok)
	}
	if st := a.State(); !st.Reachable || st.ConsecutiveFailures != 0 || st.LastPushAt.IsZero() {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestEnroll_Invalid(t *testing.T) {
	a, store, faces := newAgent(t, &fakeRemote{})
	if err := a.Enroll(context.Background(), database.FaceTemplate{Identity: "X"}); !errors.Is(err, database.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	store.EnqueueError = errors.New("disk full")
	if err := a.Enroll(context.Background(), tpl("X", "", 1)); err == nil {
		t.Fatal("expected queue error")
	}
	if faces.Len() != 0 {
		t.Error("store must not change when the queue write fails")
	}
}

func TestRunOnce_Order(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{templates: []database.FaceTemplate{tpl("A", "active", 1, 0)}}
	a, store, _ := newAgent(t, r)
	store.Enqueue(ctx, tpl("N", "", 0, 1))
	out := t0.Add(2 * time.Hour)
	store.AddRecord(database.AttendanceRecord{Identity: "A", BusinessDay: "2026-03-02", Seq: 1, CheckIn: t0, CheckOut: &out})

	if err := a.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	calls := r.callLog()
	want := []string{"push", "fetch", "export"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{exportErr: map[string]error{"B": errors.New("rejected")}}
	a, store, _ := newAgent(t, r)
	out := t0.Add(90 * time.Minute)
	store.AddRecord(database.AttendanceRecord{Identity: "A", BusinessDay: "2026-03-02", Seq: 1, CheckIn: t0, CheckOut: &out})
	store.AddRecord(database.AttendanceRecord{Identity: "B", BusinessDay: "2026-03-02", Seq: 1, CheckIn: t0, CheckOut: &out})
	store.AddRecord(database.AttendanceRecord{Identity: "C", BusinessDay: "2026-03-02", Seq: 1, CheckIn: t0})

	var progress []int
	n, err := a.Export(ctx, func(done, total int) { progress = append(progress, done) })
	if err == nil {
		t.Fatal("expected error for rejected row")
	}
	if n != 1 || len(progress) != 2 {
		t.Errorf("expected 1 exported of 2 closed, got %d (progress %v)", n, progress)
	}
	pending, _ := store.PendingExport(ctx, 10)
	if len(pending) != 1 || pending[0].Identity != "B" {
		t.Fatalf("rejected row must stay pending, got %+v", pending)
	}

	r.set(func(f *fakeRemote) { f.exportErr = nil })
	n, err = a.Export(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("retry export: %d, %v", n, err)
	}
	if len(r.exported) != 2 {
		t.Errorf("expected 2 exported rows in total, got %d", len(r.exported))
	}
	if st := a.State(); !st.LastExportAt.Equal(t0) || st.PendingExports != 0 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestOffline(t *testing.T) {
	ctx := context.Background()
	a, store, faces := newAgent(t, nil)
	if a.Online() {
		t.Error("agent without remote must be offline")
	}
	if err := a.RunOnce(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
	if err := a.Push(ctx, tpl("A", "", 1)); !errors.Is(err, ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}
	if err := a.Enroll(ctx, tpl("A", "", 1)); err != nil {
		t.Fatalf("offline enroll failed: %v", err)
	}
	if faces.Len() != 1 {
		t.Error("offline enrollment must still be matchable")
	}
	if pending, _ := store.ListPendingEnrollments(ctx); len(pending) != 1 {
		t.Error("offline enrollment must be queued")
	}
	if NewWithClient(nil, store, faces, Options{}).Online() {
		t.Error("nil client must produce an offline agent")
	}
}

func TestLoadCache(t *testing.T) {
	ctx := context.Background()
	a, store, faces := newAgent(t, nil)
	store.ReplaceTemplates(ctx, []database.FaceTemplate{tpl("A", "active", 1, 0), tpl("B", "inactive", 0, 1)})
	store.Enqueue(ctx, tpl("C", "", 1, 1))

	n, err := a.LoadCache(ctx)
	if err != nil {
		t.Fatalf("LoadCache failed: %v", err)
	}
	if n != 2 || faces.Len() != 2 {
		t.Errorf("expected A and C, got %v", faces.Identities())
	}

	store.ListTemplatesError = errors.New("io")
	if _, err := a.LoadCache(ctx); err == nil {
		t.Error("expected cache error")
	}
}

func TestStartTriggerStop(t *testing.T) {
	r := &fakeRemote{templates: []database.FaceTemplate{tpl("A", "active", 1, 0)}}
	a, _, faces := newAgent(t, r)

	a.Start(context.Background())
	waitFor(t, func() bool { return faces.Len() == 1 })
	if !a.State().Running {
		t.Error("expected running state")
	}

	r.set(func(f *fakeRemote) { f.templates = append(f.templates, tpl("B", "active", 0, 1)) })
	a.Trigger()
	a.Trigger()
	waitFor(t, func() bool { return faces.Len() == 2 })

	a.Stop()
	if a.State().Running {
		t.Error("expected stopped state")
	}
	a.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
