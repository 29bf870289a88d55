package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchKarma(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/user/spez/about.json":
			_, _ = w.Write([]byte(`{"kind":"t2","data":{"name":"spez","link_karma":1200,"comment_karma":345}}`))
		case "/user/broken/about.json":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "taskline-test")
	k, err := c.FetchKarma(context.Background(), "spez")
	require.NoError(t, err)
	assert.Equal(t, Karma{Link: 1200, Comment: 345}, k)
	assert.Equal(t, 1545, k.Total())
	assert.Equal(t, "taskline-test", gotAgent)

	_, err = c.FetchKarma(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchKarma(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
}
