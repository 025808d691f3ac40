package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireOperator(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header map[string]string
		want   int
	}{
		{"open when unset", "", nil, http.StatusOK},
		{"missing token", "s3cret", nil, http.StatusUnauthorized},
		{"wrong token", "s3cret", map[string]string{OperatorTokenHeader: "nope"}, http.StatusUnauthorized},
		{"header token", "s3cret", map[string]string{OperatorTokenHeader: "s3cret"}, http.StatusOK},
		{"bearer token", "s3cret", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bare authorization", "s3cret", map[string]string{"Authorization": "s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			RequireOperator(tt.token)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://hr.example/"})(okHandler)

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{"whitelisted", "https://hr.example", "https://hr.example"},
		{"localhost with port", "http://localhost:5173", "http://localhost:5173"},
		{"loopback", "http://127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"localhost lookalike", "http://localhost.evil.com", ""},
		{"unknown", "https://evil.example", ""},
		{"no origin", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recognize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
}
