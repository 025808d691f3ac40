package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/cooldown"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/facestore"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/matcher"
)

// fakeExtractor returns the faces registered for an image key.
type fakeExtractor struct {
	faces map[string][]extractor.Face
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) ([]extractor.Face, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.faces[string(image)], nil
}

type panicAttendance struct{ identity string }

func (p panicAttendance) Detect(ctx context.Context, identity string, now time.Time) (attendance.Outcome, error) {
	if identity == p.identity {
		panic("boom")
	}
	return attendance.Outcome{Kind: attendance.KindCheckedIn, Identity: identity}, nil
}

type fakeEnroller struct {
	mu    sync.Mutex
	got   []database.FaceTemplate
	faces *facestore.Store
	err   error
}

func (f *fakeEnroller) Enroll(ctx context.Context, t database.FaceTemplate) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.got = append(f.got, t)
	f.mu.Unlock()
	f.faces.Upsert(t, t.UpdatedAt)
	return nil
}

var (
	alice  = []float32{1, 0, 0}
	bob    = []float32{0, 1, 0}
	nobody = []float32{0, 0, 1}
	t0     = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

type fixture struct {
	pipeline *Pipeline
	store    *mock.MockStore
	faces    *facestore.Store
	ext      *fakeExtractor
	enroller *fakeEnroller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	faces := facestore.New()
	faces.Replace([]database.FaceTemplate{
		{Identity: "A", DisplayName: "Jiří Novák", Embedding: alice, UpdatedAt: t0},
		{Identity: "B", DisplayName: "Bob", Embedding: bob, UpdatedAt: t0},
	}, t0)
	m, err := matcher.New(faces, matcher.NewLinearFinder(database.EuclideanDistance), []float64{0.4, 0.6})
	if err != nil {
		t.Fatal(err)
	}
	store := mock.NewMockStore()
	policy := attendance.DefaultPolicy()
	policy.Location = time.UTC
	machine := attendance.New(store, policy, attendance.WithLogger(logger.Nop()))
	ext := &fakeExtractor{faces: map[string][]extractor.Face{
		"alice":  {{Embedding: alice, BBox: []float64{1, 2, 3, 4}, DetScore: 0.99}},
		"both":   {{Embedding: alice}, {Embedding: bob}},
		"twice":  {{Embedding: alice}, {Embedding: alice}},
		"nobody": {{Embedding: nobody}},
		"empty":  nil,
	}}
	enroller := &fakeEnroller{faces: faces}
	p, err := New(Deps{
		Extractor:  ext,
		Matcher:    m,
		Cooldown:   cooldown.New(30 * time.Second),
		Attendance: machine,
		Faces:      faces,
		Enroller:   enroller,
		Logger:     logger.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{pipeline: p, store: store, faces: faces, ext: ext, enroller: enroller}
}

func kinds(results []FaceResult) []attendance.Kind {
	out := make([]attendance.Kind, len(results))
	for i, r := range results {
		out[i] = r.Outcome.Kind
	}
	return out
}

func TestProcess_CheckInAndCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.Process(ctx, []byte("alice"), t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res) != 1 || res[0].Outcome.Kind != attendance.KindCheckedIn {
		t.Fatalf("expected CheckedIn, got %+v", res)
	}
	if res[0].Match == nil || res[0].Match.Identity != "A" || res[0].DetScore != 0.99 || len(res[0].BBox) != 4 {
		t.Errorf("unexpected face metadata %+v", res[0])
	}
	if res[0].Outcome.DisplayName != "Jiří Novák" {
		t.Errorf("expected display name from the match, got %q", res[0].Outcome.DisplayName)
	}

	res, _ = f.pipeline.Process(ctx, []byte("alice"), t0.Add(10*time.Second))
	if res[0].Outcome.Kind != attendance.KindBlocked || res[0].Outcome.Reason != attendance.ReasonCooldown {
		t.Errorf("expected cooldown block, got %+v", res[0].Outcome)
	}
	if res[0].Outcome.Remaining != 20*time.Second {
		t.Errorf("expected 20s remaining, got %v", res[0].Outcome.Remaining)
	}

	res, _ = f.pipeline.Process(ctx, []byte("alice"), t0.Add(31*time.Second))
	if res[0].Outcome.Reason != attendance.ReasonMinimumDuration {
		t.Errorf("after the window the state machine decides, got %+v", res[0].Outcome)
	}
	if f.store.OpenRecordCalls != 1 {
		t.Errorf("expected a single ledger write, got %d", f.store.OpenRecordCalls)
	}
}

func TestProcess_MultipleFaces(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Process(context.Background(), []byte("both"), t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	got := kinds(res)
	if len(got) != 2 || got[0] != attendance.KindCheckedIn || got[1] != attendance.KindCheckedIn {
		t.Errorf("expected two check-ins, got %v", got)
	}
	if res[1].Index != 1 {
		t.Errorf("expected index 1, got %d", res[1].Index)
	}

	res, _ = f.pipeline.Process(context.Background(), []byte("twice"), t0.Add(time.Hour))
	got = kinds(res)
	if got[0] == attendance.KindBlocked && res[0].Outcome.Reason == attendance.ReasonCooldown {
		t.Error("first face of the frame must reach the state machine")
	}
	if got[1] != attendance.KindBlocked || res[1].Outcome.Reason != attendance.ReasonCooldown {
		t.Errorf("same identity twice in one frame is processed once, got %v", got)
	}
}

func TestProcess_Unknown(t *testing.T) {
	f := newFixture(t)
	res, err := f.pipeline.Process(context.Background(), []byte("nobody"), t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res[0].Outcome.Kind != attendance.KindUnknown || res[0].Match != nil {
		t.Errorf("expected unknown, got %+v", res[0])
	}

	res, err = f.pipeline.Process(context.Background(), []byte("empty"), t0)
	if err != nil || len(res) != 0 {
		t.Errorf("frame without faces: %v, %v", res, err)
	}
}

func TestProcess_ExtractorError(t *testing.T) {
	f := newFixture(t)
	f.ext.err = errors.New("server down")
	if _, err := f.pipeline.Process(context.Background(), []byte("alice"), t0); err == nil {
		t.Fatal("expected extraction error")
	}
}

func TestProcess_LedgerErrorReleasesCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.OpenRecordError = errors.New("disk full")

	res, err := f.pipeline.Process(ctx, []byte("alice"), t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res[0].Error == "" || res[0].Outcome.Kind == attendance.KindCheckedIn {
		t.Fatalf("expected a per-face error, got %+v", res[0])
	}

	f.store.OpenRecordError = nil
	res, _ = f.pipeline.Process(ctx, []byte("alice"), t0.Add(time.Second))
	if res[0].Outcome.Kind != attendance.KindCheckedIn {
		t.Errorf("failed detection must not start the cooldown window, got %+v", res[0].Outcome)
	}
}

func TestProcess_PanicIsolation(t *testing.T) {
	f := newFixture(t)
	f.pipeline.attendance = panicAttendance{identity: "A"}

	res, err := f.pipeline.Process(context.Background(), []byte("both"), t0)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(res[0].Error, "boom") {
		t.Errorf("expected contained panic, got %+v", res[0])
	}
	if res[1].Outcome.Kind != attendance.KindCheckedIn || res[1].Error != "" {
		t.Errorf("second face must be unaffected, got %+v", res[1])
	}
	if !f.pipeline.cooldown.Begin("A", t0) {
		t.Error("panicking face must release its cooldown reservation")
	}
}

func TestProcess_ConcurrentStreams(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	results := make(chan attendance.Kind, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.pipeline.Process(context.Background(), []byte("alice"), t0)
			if err != nil {
				t.Errorf("Process failed: %v", err)
				return
			}
			results <- res[0].Outcome.Kind
		}()
	}
	wg.Wait()
	close(results)
	checkIns := 0
	for k := range results {
		if k == attendance.KindCheckedIn {
			checkIns++
		}
	}
	if checkIns != 1 || len(f.store.Records()) != 1 {
		t.Errorf("expected one check-in, got %d (records %d)", checkIns, len(f.store.Records()))
	}
}

func TestEnroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ext.faces["carol"] = []extractor.Face{{Embedding: []float32{0.5, 0.5, 0.7}}}

	tpl, err := f.pipeline.Enroll(ctx, "C", "  Carol   Smith ", []byte("carol"), t0)
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if tpl.Identity != "C" || tpl.DisplayName != "Carol Smith" || !tpl.IsActive() || !tpl.UpdatedAt.Equal(t0) {
		t.Errorf("unexpected template %+v", tpl)
	}
	if len(f.enroller.got) != 1 {
		t.Fatalf("expected enroller call, got %d", len(f.enroller.got))
	}

	generated, err := f.pipeline.Enroll(ctx, "", "Dave", []byte("carol"), t0)
	if err != nil || generated.Identity == "" {
		t.Errorf("blank identity must be generated: %+v, %v", generated, err)
	}
}

func TestEnroll_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity string
		display  string
		image    string
		want     error
	}{
		{"no face", "X", "Xavier", "empty", ErrNoFace},
		{"multiple faces", "X", "Xavier", "both", ErrMultipleFaces},
		{"duplicate name", "X", "jiri  NOVAK", "alice", ErrDuplicateName},
		{"duplicate with dash", "X", "Jiří-Novák", "alice", ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Enroll(ctx, tt.identity, tt.display, []byte(tt.image), t0)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Re-enrolling the same identity under its own name is allowed.
	if _, err := f.pipeline.Enroll(ctx, "A", "Jiri Novak", []byte("alice"), t0); err != nil {
		t.Errorf("re-enroll of the same identity failed: %v", err)
	}

	f.enroller.err = errors.New("queue full")
	if _, err := f.pipeline.Enroll(ctx, "Z", "Zed", []byte("alice"), t0); err == nil {
		t.Error("expected enroller error")
	}

	bare, _ := New(Deps{Extractor: f.ext, Matcher: f.pipeline.matcher, Cooldown: cooldown.New(0), Attendance: panicAttendance{}})
	if _, err := bare.Enroll(ctx, "A", "A", []byte("alice"), t0); !errors.Is(err, ErrEnrollmentDisabled) {
		t.Errorf("expected ErrEnrollmentDisabled, got %v", err)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Jiří Novák", "jiri novak"},
		{"  Anna-Marie   Ženíšková ", "anna marie zeniskova"},
		{"BOB", "bob"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error for missing deps")
	}
}
