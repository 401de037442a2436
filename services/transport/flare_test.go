package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSolver records the command sequence a FlareClient sends and can be
// told to fail the next N request commands.
type fakeSolver struct {
	mu       sync.Mutex
	cmds     []string
	failNext int
}

func (f *fakeSolver) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd flareCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.cmds = append(f.cmds, cmd.Cmd)
		fail := false
		if cmd.Cmd == "request.get" || cmd.Cmd == "request.post" {
			if f.failNext > 0 {
				f.failNext--
				fail = true
			}
		}
		f.mu.Unlock()

		if fail {
			json.NewEncoder(w).Encode(flareResult{Status: "error", Message: "challenge not solved"})
			return
		}
		json.NewEncoder(w).Encode(flareResult{
			Status: "ok",
			Solution: flareSolution{
				URL:       cmd.URL,
				Status:    200,
				Response:  "<html>cleared</html>",
				UserAgent: "solver-ua",
				Cookies: []struct {
					Name   string `json:"name"`
					Value  string `json:"value"`
					Domain string `json:"domain"`
					Path   string `json:"path"`
				}{{Name: "cf_clearance", Value: "tok", Domain: ".example.com", Path: "/"}},
			},
		})
	}
}

func (f *fakeSolver) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func TestFlareClientSessionLifecycle(t *testing.T) {
	solver := &fakeSolver{}
	srv := httptest.NewServer(solver.handler())
	defer srv.Close()

	c := NewFlareClient(srv.URL, 0)
	resp, err := c.Do(context.Background(), Request{URL: "https://example.com/search"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "<html>cleared</html>", string(resp.Body))
	assert.Equal(t, "solver-ua", resp.UserAgent)
	require.Len(t, resp.Cookies, 1)
	assert.Equal(t, "cf_clearance", resp.Cookies[0].Name)

	// Session is created once and reused.
	_, err = c.Do(context.Background(), Request{URL: "https://example.com/page2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions.create", "request.get", "request.get"}, solver.commands())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, []string{"sessions.create", "request.get", "request.get", "sessions.destroy"}, solver.commands())
}

func TestFlareClientRebuildsSessionOnceOnFailure(t *testing.T) {
	solver := &fakeSolver{failNext: 1}
	srv := httptest.NewServer(solver.handler())
	defer srv.Close()

	c := NewFlareClient(srv.URL, 0)
	resp, err := c.Do(context.Background(), Request{URL: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{
		"sessions.create", "request.get",
		"sessions.destroy", "sessions.create", "request.get",
	}, solver.commands())
}

func TestFlareClientSecondFailurePropagates(t *testing.T) {
	solver := &fakeSolver{failNext: 2}
	srv := httptest.NewServer(solver.handler())
	defer srv.Close()

	c := NewFlareClient(srv.URL, 0)
	_, err := c.Do(context.Background(), Request{URL: "https://example.com/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge not solved")

	// Exactly one rebuild, exactly one replay.
	assert.Equal(t, []string{
		"sessions.create", "request.get",
		"sessions.destroy", "sessions.create", "request.get",
	}, solver.commands())
}

func TestFlareClientPostData(t *testing.T) {
	var gotPost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd flareCommand
		json.NewDecoder(r.Body).Decode(&cmd)
		if cmd.Cmd == "request.post" {
			gotPost = cmd.PostData
		}
		json.NewEncoder(w).Encode(flareResult{Status: "ok", Solution: flareSolution{Status: 200}})
	}))
	defer srv.Close()

	c := NewFlareClient(srv.URL, 0)
	_, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    "https://example.com/login",
		Body:   []byte("user=a&pass=b"),
	})
	require.NoError(t, err)
	assert.Equal(t, "user=a&pass=b", gotPost)
}
