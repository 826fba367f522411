package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tthsd/tthsd/internal/engine/types"
)

func TestHead_KnownSizeRangeCapable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(4, "tthsd-test")
	result, err := c.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.TotalSize)
	assert.True(t, result.AcceptsRanges)
	assert.Equal(t, `"abc123"`, result.ETag)
}

func TestHead_FallsBackToRangeProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/5000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := New(4, "tthsd-test")
	result, err := c.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.TotalSize)
	assert.True(t, result.AcceptsRanges)
}

func TestGetRange_StreamsBody(t *testing.T) {
	body := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		require.Equal(t, "bytes=2-5", rng)
		w.Header().Set("Content-Range", "bytes 2-5/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[2:6]))
	}))
	defer srv.Close()

	c := New(2, "tthsd-test")
	var got strings.Builder
	err := c.GetRange(context.Background(), srv.URL, 2, 6, func(b []byte) error {
		got.Write(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2345", got.String())
}

func TestGetRange_NonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(1, "tthsd-test")
	err := c.GetRange(context.Background(), srv.URL, 0, 1, func(b []byte) error { return nil })
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, statusErr.Retryable())
}

func TestGetRangeWithRetry_RetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(1, "tthsd-test")
	var got strings.Builder
	err := c.GetRangeWithRetry(context.Background(), srv.URL, 0, 2, 5, func(b []byte) error {
		got.Write(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "ok", got.String())
}

func TestGetRangeWithRetry_StopsOnNonRetryable4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(1, "tthsd-test")
	err := c.GetRangeWithRetry(context.Background(), srv.URL, 0, 1, 5, func(b []byte) error { return nil })
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	d := backoffDelay(10)
	assert.LessOrEqual(t, d, types.RetryMaxDelay)
}
