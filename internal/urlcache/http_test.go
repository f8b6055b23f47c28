package urlcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumimeds/realtime/internal/session"
)

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/attachments/doc-1/url", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.com/doc-1?sig=abc"}`))
	}))
	defer srv.Close()

	fetch, err := NewHTTPFetch(srv.URL, session.StaticCredential("tok"))
	require.NoError(t, err)

	u, err := fetch(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/doc-1?sig=abc", u)
}

func TestHTTPFetch_Errors(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		fetch, err := NewHTTPFetch(srv.URL, session.StaticCredential("tok"))
		require.NoError(t, err)
		_, err = fetch(context.Background(), "doc-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("empty url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"url":""}`))
		}))
		defer srv.Close()

		fetch, err := NewHTTPFetch(srv.URL, session.StaticCredential("tok"))
		require.NoError(t, err)
		_, err = fetch(context.Background(), "doc-1")
		assert.Error(t, err)
	})

	t.Run("no credential", func(t *testing.T) {
		fetch, err := NewHTTPFetch("http://portal.local", session.StaticCredential(""))
		require.NoError(t, err)
		_, err = fetch(context.Background(), "doc-1")
		assert.Error(t, err)
	})
}
