package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintenance struct{ on bool }

func (f *fakeMaintenance) Active() bool { return f.on }

func newTestClient(opts ...Option) *Client {
	base := []Option{
		WithMaxRetries(2),
		WithBaseDelay(time.Millisecond),
		withSleep(func(time.Duration) {}),
	}
	return New(append(base, opts...)...)
}

func TestPostWithRetry_FallsBackAfterConnectErrors(t *testing.T) {
	var fallbackHits atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	// A closed server produces connect errors.
	dead := httptest.NewServer(http.HandlerFunc(nil))
	deadURL := dead.URL
	dead.Close()

	c := newTestClient()
	resp, err := c.PostWithRetry(context.Background(), deadURL, fallback.URL, map[string]string{"k": "v"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), fallbackHits.Load(), "exactly one fallback attempt")
}

func TestPostWithRetry_RetriesOn503ThenFallsBack(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	c := newTestClient()
	resp, err := c.PostWithRetry(context.Background(), primary.URL, fallback.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), primaryHits.Load(), "initial attempt plus two retries")
	assert.Equal(t, int32(1), fallbackHits.Load())
}

func TestPostWithRetry_TimeoutDoesNotFailOver(t *testing.T) {
	var fallbackHits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
	}))
	defer fallback.Close()

	c := newTestClient(WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := c.PostWithRetry(context.Background(), slow.URL, fallback.URL, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "error should classify as timeout: %v", err)
	assert.Equal(t, int32(0), fallbackHits.Load(), "timeout must never contact the fallback")
}

func TestPostWithRetry_4xxDoesNotRetryOrFailOver(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
	}))
	defer fallback.Close()

	c := newTestClient()
	_, err := c.PostWithRetry(context.Background(), primary.URL, fallback.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), primaryHits.Load())
	assert.Equal(t, int32(0), fallbackHits.Load())
}

func TestPostWithRetry_MaintenanceSuppressesFallback(t *testing.T) {
	var fallbackHits atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
	}))
	defer fallback.Close()

	dead := httptest.NewServer(http.HandlerFunc(nil))
	deadURL := dead.URL
	dead.Close()

	c := newTestClient(WithMaintenance(&fakeMaintenance{on: true}))
	_, err := c.PostWithRetry(context.Background(), deadURL, fallback.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), fallbackHits.Load(), "maintenance flag must suppress fallback")
}

func TestPostWithRetry_FallbackFailureReturnsPrimaryError(t *testing.T) {
	dead1 := httptest.NewServer(http.HandlerFunc(nil))
	deadPrimary := dead1.URL
	dead1.Close()
	dead2 := httptest.NewServer(http.HandlerFunc(nil))
	deadFallback := dead2.URL
	dead2.Close()

	c := newTestClient()
	_, err := c.PostWithRetry(context.Background(), deadPrimary, deadFallback, nil)
	require.Error(t, err)

	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "transport failure")
}
