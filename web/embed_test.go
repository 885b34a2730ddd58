package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestSPAHandlerServesFilesAndFallsBack(t *testing.T) {
	h := NewSPAHandler(fstest.MapFS{
		"index.html":    {Data: []byte("<html>app</html>")},
		"assets/app.js": {Data: []byte("console.log(1)")},
	})

	resp, body := get(t, h, "/assets/app.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "console.log(1)", body)
	require.Equal(t, assetCacheControl, resp.Header.Get("Cache-Control"))

	resp, body = get(t, h, "/companies/5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>app</html>", body)

	resp, _ = get(t, h, "/api/missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmbeddedFrontendHasIndex(t *testing.T) {
	resp, body := get(t, SPAHandler(), "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "ConnectWise AI")
}
