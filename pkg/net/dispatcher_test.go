package net

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	waits     int32
	throttled int32
}

func (p *recordingProvider) Wait(context.Context, int64) error {
	atomic.AddInt32(&p.waits, 1)
	return nil
}

func (p *recordingProvider) ReportThrottled(context.Context, int64, time.Duration) {
	atomic.AddInt32(&p.throttled, 1)
}

func TestDispatcher_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"query":"{ shop { name } }"}`, string(body))
		assert.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))

		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	provider := &recordingProvider{}
	d := NewDispatcher(provider, WithBaseDelay(time.Millisecond))

	req, err := BuildShopifyGraphQLRequest(context.Background(), srv.URL, []byte(`{"query":"{ shop { name } }"}`), "tok")
	require.NoError(t, err)

	resp, err := d.Send(context.Background(), 1, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&provider.waits))
}

func TestDispatcher_ReportsThrottle(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	provider := &recordingProvider{}
	d := NewDispatcher(provider, WithBaseDelay(time.Millisecond))

	req, err := BuildShopifyGraphQLRequest(context.Background(), srv.URL, []byte(`{}`), "tok")
	require.NoError(t, err)

	resp, err := d.Send(context.Background(), 7, req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.throttled))
}

func TestDispatcher_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, WithMaxRetries(1), WithBaseDelay(time.Millisecond))
	req, err := BuildShopifyGraphQLRequest(context.Background(), srv.URL, []byte(`{}`), "tok")
	require.NoError(t, err)

	_, err = d.Send(context.Background(), 1, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestDispatcher_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDispatcher(nil, WithBaseDelay(time.Millisecond))
	req, err := BuildShopifyGraphQLRequest(context.Background(), srv.URL, []byte(`{}`), "tok")
	require.NoError(t, err)

	resp, err := d.Send(context.Background(), 1, req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitProvider_PausesAfterThrottle(t *testing.T) {
	p := NewRateLimitProvider(1000, 10)
	p.ReportThrottled(context.Background(), 3, 30*time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), 3))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// 其他店铺不受影响
	start = time.Now()
	require.NoError(t, p.Wait(context.Background(), 4))
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}
