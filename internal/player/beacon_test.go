package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifierFire(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.RequestURI())
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewHTTPNotifier(context.Background(), srv.Client())
	n.Fire("start", []string{srv.URL + "/a", srv.URL + "/b"})
	n.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"/a", "/b"}, paths)
}

func TestHTTPNotifierErrorMacro(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.URL.Query().Get("code"))
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewHTTPNotifier(context.Background(), srv.Client())
	n.FireError([]string{
		srv.URL + "/e?code=[ERRORCODE]",
		srv.URL + "/e?code=%5BERRORCODE%5D",
	}, 405)
	n.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, []string{"405", "405"}, got)
}

func TestHTTPNotifierSwallowsFailures(t *testing.T) {
	n := NewHTTPNotifier(context.Background(), &http.Client{})
	// Unroutable and malformed targets must not panic or block.
	n.Fire("start", []string{"http://127.0.0.1:1/beacon", "://bad"})
	n.Flush()
}
