package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/pipeline"
)

type fakeRecognizer struct {
	results   []pipeline.FaceResult
	err       error
	enrollErr error
	gotImage  []byte
	gotID     string
	gotName   string
}

func (f *fakeRecognizer) Process(ctx context.Context, image []byte, now time.Time) ([]pipeline.FaceResult, error) {
	f.gotImage = image
	return f.results, f.err
}

func (f *fakeRecognizer) Enroll(ctx context.Context, identity, displayName string, image []byte, now time.Time) (database.FaceTemplate, error) {
	f.gotImage, f.gotID, f.gotName = image, identity, displayName
	if f.enrollErr != nil {
		return database.FaceTemplate{}, f.enrollErr
	}
	return database.FaceTemplate{Identity: identity, DisplayName: displayName, Embedding: make([]float32, 128), UpdatedAt: now}, nil
}

func TestRecognize(t *testing.T) {
	fake := &fakeRecognizer{results: []pipeline.FaceResult{
		{Index: 0, Outcome: attendance.Outcome{Kind: attendance.KindCheckedIn, Identity: "E42", Message: "checked in at 10:05"}},
		{Index: 1, Outcome: attendance.Unknown()},
	}}
	h := NewRecognizeHandler(fake, fixedClock(testNow))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recognize", strings.NewReader("frame"))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["count"] != float64(2) || string(fake.gotImage) != "frame" {
		t.Errorf("unexpected response %v", body)
	}
	faces := body["faces"].([]any)
	outcome := faces[0].(map[string]any)["outcome"].(map[string]any)
	if outcome["kind"] != "checked_in" || outcome["identity"] != "E42" {
		t.Errorf("unexpected outcome %v", outcome)
	}
	if faces[1].(map[string]any)["outcome"].(map[string]any)["kind"] != "unknown" {
		t.Errorf("expected unknown second face, got %v", faces[1])
	}
}

func TestRecognize_Errors(t *testing.T) {
	h := NewRecognizeHandler(&fakeRecognizer{err: errors.New("extractor down")}, fixedClock(testNow))

	rec := httptest.NewRecorder()
	h.Recognize(rec, httptest.NewRequest(http.MethodPost, "/api/v1/recognize", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Recognize(rec, httptest.NewRequest(http.MethodPost, "/api/v1/recognize", strings.NewReader("frame")))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("extractor failure: expected 502, got %d", rec.Code)
	}
}

func TestEnroll(t *testing.T) {
	fake := &fakeRecognizer{}
	h := NewRecognizeHandler(fake, fixedClock(testNow))

	req := multipartRequest(t, "/api/v1/enrollments", []byte("face"), map[string]string{
		"identity":     "E7",
		"display_name": "Eva",
	})
	rec := httptest.NewRecorder()
	h.Enroll(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.gotID != "E7" || fake.gotName != "Eva" || string(fake.gotImage) != "face" {
		t.Errorf("unexpected enroll call %q %q %q", fake.gotID, fake.gotName, fake.gotImage)
	}
	body := decode[EnrollResponse](t, rec)
	if body.Dimension != 128 || !body.EnrolledAt.Equal(testNow) {
		t.Errorf("unexpected response %+v", body)
	}
}

func TestEnroll_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrNoFace, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: found 3", pipeline.ErrMultipleFaces), http.StatusUnprocessableEntity},
		{pipeline.ErrDuplicateName, http.StatusConflict},
		{database.ErrInvalidTemplate, http.StatusBadRequest},
		{pipeline.ErrEnrollmentDisabled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := NewRecognizeHandler(&fakeRecognizer{enrollErr: tt.err}, fixedClock(testNow))
			rec := httptest.NewRecorder()
			h.Enroll(rec, multipartRequest(t, "/api/v1/enrollments", []byte("face"), map[string]string{"identity": "X"}))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
