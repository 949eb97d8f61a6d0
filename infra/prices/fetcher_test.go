package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wattbudget/core/price"
)

const body = `{"prices":[
 {"start":"2026-01-15T01:00:00Z","price":0.8},
 {"start":"2026-01-15T00:00:00Z","price":1.2}
]}`

func TestFetchWithClientCredentials(t *testing.T) {
	var tokens atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokens.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"token123","token_type":"bearer","expires_in":3600}`))
		case "/prices":
			if r.Header.Get("Authorization") != "Bearer token123" || r.URL.Query().Get("area") != "NO1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(body))
		}
	}))
	defer srv.Close()

	f := NewFetcher(Config{
		URL:  srv.URL + "/prices",
		Area: "NO1",
		Auth: AuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/token"},
	})
	for i := 0; i < 2; i++ {
		points, err := f.Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), points[0].Start.UTC())
		assert.Equal(t, 1.2, points[0].Price)
	}
	assert.Equal(t, int32(1), tokens.Load())
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{"prices":[]}`))
			return
		}
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFetcher(Config{URL: srv.URL + "/down"}).Fetch(context.Background())
	assert.ErrorContains(t, err, "status 503")

	_, err = NewFetcher(Config{URL: srv.URL + "/empty"}).Fetch(context.Background())
	assert.ErrorIs(t, err, price.ErrNoPrices)
}

func TestFetchFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`prices:
  - start: 2026-01-15T02:00:00Z
    price: 0.5
  - start: 2026-01-15T03:00:00Z
    price: 0.4
`), 0o600))
	points, err := NewFetcher(Config{File: path}).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 0.4, points[1].Price)

	assert.Error(t, Config{}.Validate())
	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
