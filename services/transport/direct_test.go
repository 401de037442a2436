package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectClientDefaultAndOverrideHeaders(t *testing.T) {
	var gotUA, gotRef string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{})
	hdr := http.Header{}
	hdr.Set("Referer", "https://example.com/")
	resp, err := c.Do(context.Background(), Request{URL: srv.URL, Header: hdr})
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, "https://example.com/", gotRef)
	assert.Equal(t, defaultUserAgent, resp.UserAgent)
}

func TestDirectClientDecodesGBK(t *testing.T) {
	// "你好" in GBK.
	gbk := []byte{0xC4, 0xE3, 0xBA, 0xC3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=gbk")
		w.Write(gbk)
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{})
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "你好", string(resp.Body))
}

func TestDirectClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{Attempts: 3})
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestDirectClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{})
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

// One client serves all of a site's batch workers at once, so the jittered
// pause must be safe under concurrent Do calls.
func TestDirectClientConcurrentRequestsWithJitter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{DelayMin: time.Millisecond, DelayMax: 2 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				resp, err := Get(context.Background(), c, srv.URL)
				assert.NoError(t, err)
				assert.True(t, resp.OK())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(40), calls.Load())
}

func TestDirectClientKeepsCookiesAcrossRequests(t *testing.T) {
	var secondCookie string
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		} else {
			if ck, err := r.Cookie("session"); err == nil {
				secondCookie = ck.Value
			}
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewDirectClient(DirectOptions{})
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, "abc", secondCookie)
	require.Len(t, resp.Cookies, 1)
	assert.Equal(t, "session", resp.Cookies[0].Name)
}
