package registryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePackageReturnsPackageId(t *testing.T) {
	want := id.NewRandom(id.KindPackage)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.NotEmpty(t, req.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(resolveResponse{PackageId: want.String()})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: []byte("test-secret")})
	got, err := c.ResolvePackage(context.Background(), "acme/widget", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolvePackageRetriesOn5xxThenSucceeds(t *testing.T) {
	want := id.NewRandom(id.KindPackage)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(resolveResponse{PackageId: want.String()})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: []byte("test-secret"), BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	got, err := c.ResolvePackage(context.Background(), "acme/widget", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolvePackageDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: []byte("test-secret"), BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})
	_, err := c.ResolvePackage(context.Background(), "acme/missing", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolvePackageExhaustsRetriesOnPersistent5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Secret: []byte("test-secret"), MaxRetries: 2, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	_, err := c.ResolvePackage(context.Background(), "acme/widget", "1.0.0")
	require.Error(t, err)
}
