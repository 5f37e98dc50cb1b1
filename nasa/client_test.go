package nasa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/apodrating/internal/apod"
)

const apodJSON = `{
  "copyright": "Someone",
  "date": "2019-01-10",
  "explanation": "A galaxy.",
  "hdurl": "https://apod.nasa.gov/apod/image/1901/galaxy_hd.jpg",
  "media_type": "image",
  "service_version": "v1",
  "title": "A Galaxy",
  "url": "https://apod.nasa.gov/apod/image/1901/galaxy.jpg"
}`

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func upstreamKind(t *testing.T, err error) Kind {
	t.Helper()
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue), "expected *UpstreamError, got %T: %v", err, err)
	return ue.Kind
}

func TestFetch_Success(t *testing.T) {
	var gotQuery map[string]string
	var gotPath string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{
			"date":    r.URL.Query().Get("date"),
			"api_key": r.URL.Query().Get("api_key"),
			"hd":      r.URL.Query().Get("hd"),
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(apodJSON))
	})

	rec, err := c.Fetch(context.Background(), "42", "2019-01-10", "DEMO_KEY")
	require.NoError(t, err)

	assert.Equal(t, apod.Record{
		ID:         "42",
		Date:       "2019-01-10",
		Title:      "A Galaxy",
		ImageURLHD: "https://apod.nasa.gov/apod/image/1901/galaxy_hd.jpg",
	}, rec)
	assert.Equal(t, DefaultPath, gotPath)
	assert.Equal(t, map[string]string{"date": "2019-01-10", "api_key": "DEMO_KEY", "hd": "true"}, gotQuery)
}

func TestFetch_CustomPath(t *testing.T) {
	var gotPath string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(apodJSON))
	})
	WithPath("/v2/apod")(c)

	_, err := c.Fetch(context.Background(), "1", "2019-01-10", "k")
	require.NoError(t, err)
	assert.Equal(t, "/v2/apod", gotPath)
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		kind        Kind
	}{
		{"server error", http.StatusInternalServerError, "application/json", `{"msg":"oops"}`, KindUnavailable},
		{"bad request", http.StatusBadRequest, "application/json", `{"msg":"Date must be between Jun 16, 1995 and today"}`, KindUnavailable},
		{"forbidden", http.StatusForbidden, "application/json", `{"error":{"code":"API_KEY_INVALID"}}`, KindUnavailable},
		{"not json content type", http.StatusOK, "text/html", `<html></html>`, KindMalformed},
		{"invalid json", http.StatusOK, "application/json", `{"date":`, KindMalformed},
		{"missing hdurl", http.StatusOK, "application/json", `{"date":"2019-01-10","title":"t"}`, KindMalformed},
		{"wrong field type", http.StatusOK, "application/json", `{"date":"2019-01-10","title":7,"hdurl":"u"}`, KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			rec, err := c.Fetch(context.Background(), "1", "2019-01-10", "k")
			require.Error(t, err)
			assert.Equal(t, apod.Record{}, rec, "no partial records")
			assert.Equal(t, tt.kind, upstreamKind(t, err))
		})
	}
}

func TestFetch_StatusRecorded(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Fetch(context.Background(), "1", "2019-01-10", "k")
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.Status)
	assert.Contains(t, ue.Error(), "status 503")
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(WithBaseURL(url))
	_, err := c.Fetch(context.Background(), "1", "2019-01-10", "k")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, upstreamKind(t, err))
}

func TestFetch_TransportErrorHidesAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(WithBaseURL(url))
	_, err := c.Fetch(context.Background(), "1", "2019-01-10", "SUPERSECRET")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SUPERSECRET")
	assert.NotContains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), url+DefaultPath, "the endpoint is still named")
	assert.Equal(t, KindUnavailable, upstreamKind(t, err))
}

func TestFetch_TimeoutHidesAPIKey(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "1", "2019-01-10", "SUPERSECRET")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SUPERSECRET")
	assert.Equal(t, KindTimeout, upstreamKind(t, err))
}

func TestFetch_Timeout(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "1", "2019-01-10", "k")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, upstreamKind(t, err))
}

func TestFetch_RateLimitHonoursContext(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(apodJSON))
	})
	WithRateLimit(0.001)(c)

	_, err := c.Fetch(context.Background(), "1", "2019-01-10", "k")
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, "1", "2019-01-11", "k")
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unavailable", KindUnavailable.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
