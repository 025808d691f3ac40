package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(server.URL, "secret", 2*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty", "", true},
		{"bad scheme", "ftp://example.com", true},
		{"http", "http://example.com", false},
		{"trailing slash", "https://example.com/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.url, "", 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err == nil && !strings.HasSuffix(c.URL(), "/api/v1") {
				t.Errorf("unexpected base URL %s", c.URL())
			}
		})
	}
	if _, err := NewClient("", "", 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFetchTemplates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/face-templates", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"templates":[
			{"identity":"E1","display_name":"Alice","embedding":[0.1,0.2],"status":"active","updated_at":"2026-03-01T10:00:00Z"},
			{"identity":"E2","display_name":"Bob","embedding":[0.3,0.4],"updated_at":"2026-03-01T10:00:00Z"},
			{"identity":"E3","display_name":"Carol","embedding":[0.5,0.6],"status":"deleted"}
		]}`)
	})
	c := newTestClient(t, mux)

	templates, err := c.FetchTemplates(context.Background())
	if err != nil {
		t.Fatalf("FetchTemplates failed: %v", err)
	}
	if len(templates) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(templates))
	}
	if !templates[0].IsActive() || !templates[1].IsActive() {
		t.Error("explicit and missing status must be active")
	}
	if templates[2].IsActive() || templates[2].Status != database.TemplateStatusInactive {
		t.Errorf("unknown status must be inactive, got %q", templates[2].Status)
	}
	if len(templates[1].Embedding) != 2 || templates[1].DisplayName != "Bob" {
		t.Errorf("unexpected template %+v", templates[1])
	}
}

func TestFetchTemplates_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty identity", `{"templates":[{"identity":"","embedding":[0.1]}]}`},
		{"empty embedding", `{"templates":[{"identity":"E1","embedding":[]}]}`},
		{"dimension mismatch", `{"templates":[{"identity":"E1","embedding":[0.1]},{"identity":"E2","embedding":[0.1,0.2]}]}`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			_, err := c.FetchTemplates(context.Background())
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("expected ErrMalformedPayload, got %v", err)
			}
		})
	}
}

func TestFetchTemplates_InactiveRowsNotValidated(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"templates":[
			{"identity":"E1","embedding":[0.1,0.2]},
			{"identity":"E2","embedding":[0.1],"status":"inactive"},
			{"identity":"E3","embedding":[],"status":"disabled"}]}`)
	}))
	got, err := c.FetchTemplates(context.Background())
	if err != nil {
		t.Fatalf("FetchTemplates failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(got))
	}
	if got[1].IsActive() || got[2].IsActive() {
		t.Error("inactive rows must stay inactive")
	}
}

func TestFetchTemplates_StatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such thing", http.StatusNotFound)
	}))
	_, err := c.FetchTemplates(context.Background())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || !strings.Contains(se.Body, "no such thing") {
		t.Errorf("expected error body in StatusError, got %v", err)
	}
	if IsNotFound(errors.New("status 404")) {
		t.Error("plain errors are never not-found")
	}
}

func TestPushTemplate(t *testing.T) {
	var got putTemplateRequest
	var path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	err := c.PushTemplate(context.Background(), database.FaceTemplate{
		Identity: "E 42", DisplayName: "Eve", Embedding: []float32{0.5, 0.25},
	})
	if err != nil {
		t.Fatalf("PushTemplate failed: %v", err)
	}
	if path != "/api/v1/face-templates/E 42" {
		t.Errorf("unexpected path %q", path)
	}
	if got.Identity != "E 42" || got.DisplayName != "Eve" || len(got.Embedding) != 2 {
		t.Errorf("unexpected body %+v", got)
	}

	if err := c.PushTemplate(context.Background(), database.FaceTemplate{}); !errors.Is(err, database.ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestExportAttendance(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/attendance" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))

	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(66 * time.Minute)
	rec := database.AttendanceRecord{Identity: "E42", BusinessDay: "2026-03-02", Seq: 1, CheckIn: in, CheckOut: &out}
	if err := c.ExportAttendance(context.Background(), rec); err != nil {
		t.Fatalf("ExportAttendance failed: %v", err)
	}
	if got["identity"] != "E42" || got["business_day"] != "2026-03-02" {
		t.Errorf("unexpected payload %v", got)
	}
	if got["total_hours"] != 1.1 || got["source_system"] != "face_recognition" {
		t.Errorf("unexpected hours or source: %v", got)
	}
	if got["check_out"] != "2026-03-02T10:06:00Z" {
		t.Errorf("unexpected check_out %v", got["check_out"])
	}

	rec.CheckOut = nil
	if err := c.ExportAttendance(context.Background(), rec); !errors.Is(err, database.ErrInvalidRecord) {
		t.Errorf("open records cannot be exported, got %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(block)

	c, err := NewClient(server.URL, "", 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := c.FetchTemplates(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("request was not bounded by the client timeout")
	}
}
