package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datacol/colfetch/internal/fetch"
)

func testRequest(baseURL string) fetch.Request {
	return fetch.Request{
		ResourceKey: "dane",
		BaseURL:     baseURL,
		Path:        "/v1/indices",
	}
}

func TestHTTPTransport_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/indices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	transport := fetch.NewHTTPTransport(srv.Client())

	resp, err := transport.Send(context.Background(), &fetch.Request{
		ResourceKey: "dane",
		BaseURL:     srv.URL,
		Path:        "/v1/indices",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestHTTPTransport_QueryAndHeaders(t *testing.T) {
	t.Parallel()

	var gotQuery, gotAgent, gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := fetch.NewHTTPTransport(srv.Client(), fetch.WithUserAgent("colfetch/1.0"))

	req := testRequest(srv.URL)
	req.Query = map[string]string{"year": "2025", "format": "json"}
	req.Header = map[string]string{"Accept": "application/json"}

	_, err := transport.Send(context.Background(), &req)
	require.NoError(t, err)

	// url.Values.Encode sorts keys.
	assert.Equal(t, "format=json&year=2025", gotQuery)
	assert.Equal(t, "colfetch/1.0", gotAgent)
	assert.Equal(t, "application/json", gotAccept)
}

func TestHTTPTransport_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantKind fetch.ErrorKind
	}{
		{"429 is transient", http.StatusTooManyRequests, fetch.TransientTransport},
		{"500 is transient", http.StatusInternalServerError, fetch.TransientTransport},
		{"503 is transient", http.StatusServiceUnavailable, fetch.TransientTransport},
		{"404 is permanent", http.StatusNotFound, fetch.PermanentTransport},
		{"400 is permanent", http.StatusBadRequest, fetch.PermanentTransport},
		{"403 is permanent", http.StatusForbidden, fetch.PermanentTransport},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			transport := fetch.NewHTTPTransport(srv.Client())
			req := testRequest(srv.URL)

			_, err := transport.Send(context.Background(), &req)
			require.Error(t, err)

			kind, ok := fetch.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)

			var fe *fetch.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.status, fe.StatusCode)
		})
	}
}

func TestHTTPTransport_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := fetch.NewHTTPTransport(srv.Client())
	req := testRequest(srv.URL)
	req.Timeout = 20 * time.Millisecond

	_, err := transport.Send(context.Background(), &req)
	require.Error(t, err)

	kind, ok := fetch.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetch.TransientTransport, kind)
}

func TestHTTPTransport_CancellationIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	transport := fetch.NewHTTPTransport(srv.Client())
	req := testRequest(srv.URL)

	_, err := transport.Send(ctx, &req)
	require.Error(t, err)

	kind, ok := fetch.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetch.PermanentTransport, kind)
}

func TestHTTPTransport_MalformedBaseURL(t *testing.T) {
	t.Parallel()

	transport := fetch.NewHTTPTransport(nil)
	req := fetch.Request{ResourceKey: "x", BaseURL: "://not-a-url"}

	_, err := transport.Send(context.Background(), &req)
	require.Error(t, err)

	kind, ok := fetch.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetch.PermanentTransport, kind)
}
