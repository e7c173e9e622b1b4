package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedPut struct {
	method      string
	path        string
	acl         string
	contentType string
}

func newFakeSpaces(t *testing.T, status int) (*httptest.Server, func() []capturedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []capturedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		puts = append(puts, capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			acl:         r.Header.Get("X-Amz-Acl"),
			contentType: r.Header.Get("Content-Type"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPut(nil), puts...)
	}
}

func TestSpacesStore_Upload(t *testing.T) {
	srv, puts := newFakeSpaces(t, http.StatusOK)

	store, err := NewSpacesStore(context.Background(), SpacesConfig{
		Endpoint: srv.URL + "/",
		Region:   "sgp1",
		Bucket:   "evidence",
		Key:      "key",
		Secret:   "secret",
	})
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "/anpr/sub-1/original/abc.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/evidence/anpr/sub-1/original/abc.jpg", url)

	got := puts()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/evidence/anpr/sub-1/original/abc.jpg", got[0].path)
	assert.Equal(t, "public-read", got[0].acl)
	assert.Equal(t, "image/jpeg", got[0].contentType)
}

func TestSpacesStore_UploadFailure(t *testing.T) {
	srv, _ := newFakeSpaces(t, http.StatusForbidden)

	store, err := NewSpacesStore(context.Background(), SpacesConfig{
		Endpoint: srv.URL,
		Bucket:   "evidence",
		Key:      "key",
		Secret:   "secret",
	})
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "x.jpg", []byte("jpeg"), "image/jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x.jpg")
}

func TestNewSpacesStore_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewSpacesStore(context.Background(), SpacesConfig{Bucket: "evidence"})
	assert.Error(t, err)

	_, err = NewSpacesStore(context.Background(), SpacesConfig{Endpoint: "https://sgp1.example.com"})
	assert.Error(t, err)
}

func TestSpacesStore_URL(t *testing.T) {
	s := &SpacesStore{bucket: "b", endpoint: "https://sgp1.example.com"}
	assert.Equal(t, "https://sgp1.example.com/b/k/x.jpg", s.URL("/k/x.jpg"))
}

func TestNoopStore(t *testing.T) {
	url, err := NoopStore{}.Upload(context.Background(), "k", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Empty(t, url)
}
