package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveCORS(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	rec := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "http://localhost:5173")

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-CW-Session-ID")
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	rec := serveCORS([]string{"*"}, http.MethodGet, "https://example.com")

	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	rec := serveCORS([]string{"http://localhost:5173"}, http.MethodGet, "https://evil.test")

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := serveCORS([]string{"*"}, http.MethodOptions, "https://example.com")
	require.Equal(t, http.StatusNoContent, rec.Code)
}
