package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := APIKeyAuth("secret")(next)

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{"missing key", nil, http.StatusUnauthorized},
		{"valid key header", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"wrong key header", map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"valid bearer token", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
		{"wrong bearer token", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"unsupported auth scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"header wins over bearer", map[string]string{"X-API-Key": "secret", "Authorization": "Bearer nope"}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/productions/current", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
