package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
	"github.com/R3E-Network/ipa_gateway/supabase/client"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := client.New(client.Config{URL: server.URL, APIKey: "service-key"})
	require.NoError(t, err)
	store, err := New(c, "")
	require.NoError(t, err)
	return store
}

func TestSlugFound(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/apps", r.URL.Path)
		assert.Equal(t, "eq.42", r.URL.Query().Get("id"))
		assert.Equal(t, "slug", r.URL.Query().Get("select"))
		w.Write([]byte(`[{"slug":"my-app"}]`))
	})

	slug, err := store.Slug(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "my-app", slug)
}

func TestSlugMissing(t *testing.T) {
	bodies := []string{`[]`, `[{"slug":null}]`, `[{"slug":""}]`, `[{"other":"x"}]`}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})

			_, err := store.Slug(context.Background(), "42")
			assert.True(t, errors.Is(err, catalog.ErrNotFound), "err = %v", err)
		})
	}
}

func TestSlugUpstreamError(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid API key"}`))
	})

	_, err := store.Slug(context.Background(), "42")
	require.Error(t, err)
	assert.False(t, errors.Is(err, catalog.ErrNotFound))
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestSlugInvalidJSON(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := store.Slug(context.Background(), "42")
	require.Error(t, err)
	assert.False(t, errors.Is(err, catalog.ErrNotFound))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, "apps")
	assert.Error(t, err)
}
