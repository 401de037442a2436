package magnetinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		w.Write([]byte(`{"name":"Some.Release.2024","size":1699999744,"count":2,"file_type":"video"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	info, err := c.Lookup(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.NoError(t, err)

	assert.Equal(t, "magnet:?xt=urn:btih:ABC", gotURL)
	assert.Equal(t, "Some.Release.2024", info.Name)
	assert.Equal(t, int64(1699999744), info.Size)
	assert.Equal(t, 2, info.FileCount)
}

func TestLookupErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Lookup(context.Background(), "magnet:?xt=urn:btih:ABC")
	assert.Error(t, err)
}

func TestLookupUnconfigured(t *testing.T) {
	c := NewClient("")
	_, err := c.Lookup(context.Background(), "magnet:?xt=urn:btih:ABC")
	assert.Error(t, err)
}
