package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "bad things")

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["error"] != "bad things" {
		t.Errorf("unexpected error body %v", body)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if recorder.Code != http.StatusOK || !strings.Contains(recorder.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestParseDayRange(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{"defaults", "", "2026-02-24", "2026-03-02", false},
		{"explicit", "?from=2026-01-01&to=2026-01-31", "2026-01-01", "2026-01-31", false},
		{"only to", "?to=2026-01-10", "2026-01-04", "2026-01-10", false},
		{"bad from", "?from=yesterday", "", "", true},
		{"bad to", "?to=2026-13-01", "", "", true},
		{"reversed", "?from=2026-02-01&to=2026-01-01", "", "", true},
		{"too wide", "?from=2024-01-01&to=2026-01-01", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/attendance"+tt.query, nil)
			from, to, err := parseDayRange(req, "2026-03-02")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if from != tt.wantFrom || to != tt.wantTo {
				t.Errorf("got %s..%s, want %s..%s", from, to, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func TestReadImage(t *testing.T) {
	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("jpegbytes"))
		req.Header.Set("Content-Type", "image/jpeg")
		data, err := readImage(httptest.NewRecorder(), req)
		if err != nil || string(data) != "jpegbytes" {
			t.Errorf("got %q, %v", data, err)
		}
	})
	t.Run("multipart", func(t *testing.T) {
		req := multipartRequest(t, "/", []byte("pngbytes"), nil)
		data, err := readImage(httptest.NewRecorder(), req)
		if err != nil || string(data) != "pngbytes" {
			t.Errorf("got %q, %v", data, err)
		}
	})
	t.Run("multipart without image", func(t *testing.T) {
		req := multipartRequest(t, "/", nil, map[string]string{"identity": "A"})
		if _, err := readImage(httptest.NewRecorder(), req); err != errNoImage {
			t.Errorf("expected errNoImage, got %v", err)
		}
	})
	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if _, err := readImage(httptest.NewRecorder(), req); err != errNoImage {
			t.Errorf("expected errNoImage, got %v", err)
		}
	})
}
