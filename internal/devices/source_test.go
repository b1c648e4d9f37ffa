package devices

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-notifier/internal/config"
	"device-notifier/internal/logging"
	"device-notifier/internal/models"
)

const payload = `[{"Id":42,"UltimaComunicacao":"2024-05-01T12:00:00+00:00","Entidade":"Apoio SP","isAtivo":true,"Extra":"kept"},` +
	`{"Id":"43","UltimaComunicacao":"bogus","Entidade":"Produção POA","isAtivo":false}]`

var creds = config.Credentials{Username: "user", Password: "pass"}

func newAPI(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad credentials"))
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch_RemoteThenCache(t *testing.T) {
	srv, calls := newAPI(t, http.StatusOK, payload)
	cache := filepath.Join(t.TempDir(), "resources", "dados_api.json")
	src := NewSource(srv.URL, cache, srv.Client(), logging.Nop(), 1)

	first, err := src.Fetch(context.Background(), creds)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, models.DeviceRecord{ID: "42", Location: "Apoio SP", LastSeen: "2024-05-01T12:00:00+00:00", Active: true}, first[0])

	raw, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, payload, string(raw), "cache must hold the API body verbatim")

	second, err := src.Fetch(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "cached snapshot must suppress the remote call")
}

func TestFetch_CacheRoundTrip(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "dados_api.json")
	require.NoError(t, writeAtomic(cache, []byte(payload)))

	src := NewSource("http://127.0.0.1:0/never-called", cache, nil, logging.Nop(), 1)
	records, err := src.Fetch(context.Background(), creds)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	raw, err := os.ReadFile(cache)
	require.NoError(t, err)
	assert.Equal(t, payload, string(raw))
}

func TestFetch_Unauthorized(t *testing.T) {
	srv, _ := newAPI(t, http.StatusOK, payload)
	cache := filepath.Join(t.TempDir(), "dados_api.json")
	src := NewSource(srv.URL, cache, srv.Client(), logging.Nop(), 3)

	_, err := src.Fetch(context.Background(), config.Credentials{Username: "user", Password: "wrong"})
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "bad credentials", authErr.Body)
	assert.NoFileExists(t, cache)
}

func TestFetch_NonOKStatusIsNotRetried(t *testing.T) {
	srv, calls := newAPI(t, http.StatusInternalServerError, "oops")
	src := NewSource(srv.URL, filepath.Join(t.TempDir(), "c.json"), srv.Client(), logging.Nop(), 3)

	_, err := src.Fetch(context.Background(), creds)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src := NewSource(url, filepath.Join(t.TempDir(), "c.json"), nil, logging.Nop(), 2)
	src.delay = 0

	_, err := src.Fetch(context.Background(), creds)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, url, te.URL)
}

func TestFetch_CorruptCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "dados_api.json")
	require.NoError(t, os.WriteFile(cache, []byte("{not json"), 0o600))

	src := NewSource("http://unused", cache, nil, logging.Nop(), 1)
	_, err := src.Fetch(context.Background(), creds)
	assert.Error(t, err)
}

func TestInvalidate(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "dados_api.json")
	require.NoError(t, os.WriteFile(cache, []byte("[]"), 0o600))

	src := NewSource("http://unused", cache, nil, logging.Nop(), 1)
	require.NoError(t, src.Invalidate())
	assert.NoFileExists(t, cache)
	assert.NoError(t, src.Invalidate(), "deleting a missing cache is fine")
}
