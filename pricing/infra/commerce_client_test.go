package infra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"storefront-pricing/pricing/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *CommerceClient {
	return NewCommerceClient(CommerceClientOptions{
		BaseURL:        url,
		PublishableKey: "pk_test",
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

func TestCommerceClient_FetchLowestPrices(t *testing.T) {
	var got lowestPriceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultLowestPricePath, r.URL.Path)
		assert.Equal(t, "pk_test", r.Header.Get("x-publishable-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{
			"v1":{"lowest_30d_amount":"79.99","current_amount":"99.99"},
			"v2":{"lowest_30d_amount":null,"current_amount":"10.00"},
			"v3":null
		}}`))
	}))
	defer srv.Close()

	table, err := newTestClient(srv.URL+"/").FetchLowestPrices(context.Background(), domain.LowestPriceQuery{
		VariantIDs:   []string{"v1", "v2", "v3", "v4"},
		CurrencyCode: "pln",
		RegionID:     "reg_pl",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"v1", "v2", "v3", "v4"}, got.VariantIDs)
	assert.Equal(t, "pln", got.CurrencyCode)
	assert.Equal(t, "reg_pl", got.RegionID)
	assert.Equal(t, 30, got.Days)

	require.Len(t, table, 4)
	require.NotNil(t, table["v1"])
	assert.Equal(t, "79.99", table["v1"].Lowest30dAmount.Decimal.StringFixed(2))
	assert.Equal(t, "99.99", table["v1"].CurrentAmount.Decimal.StringFixed(2))
	require.NotNil(t, table["v2"])
	assert.False(t, table["v2"].Lowest30dAmount.Valid)
	assert.True(t, table["v2"].CurrentAmount.Valid)
	assert.Nil(t, table["v3"])
	assert.Nil(t, table["v4"])
}

func TestCommerceClient_EmptyQuerySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	table, err := newTestClient(srv.URL).FetchLowestPrices(context.Background(), domain.LowestPriceQuery{})
	require.NoError(t, err)
	assert.Empty(t, table)
	assert.Zero(t, calls.Load())
}

func TestCommerceClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":{"v1":{"lowest_30d_amount":"5.00","current_amount":"6.00"}}}`))
	}))
	defer srv.Close()

	table, err := newTestClient(srv.URL).FetchLowestPrices(context.Background(), domain.LowestPriceQuery{VariantIDs: []string{"v1"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, table["v1"])
}

func TestCommerceClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchLowestPrices(context.Background(), domain.LowestPriceQuery{VariantIDs: []string{"v1"}})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
}

func TestCommerceClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid currency", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchLowestPrices(context.Background(), domain.LowestPriceQuery{VariantIDs: []string{"v1"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "invalid currency")
}

func TestCommerceClient_HonoursCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestClient(srv.URL).FetchLowestPrices(ctx, domain.LowestPriceQuery{VariantIDs: []string{"v1"}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(&FetchError{StatusCode: 503, Retryable: retryableStatus(503)}))
	assert.True(t, IsRetryable(&FetchError{StatusCode: 429, Retryable: retryableStatus(429)}))
	assert.False(t, IsRetryable(&FetchError{StatusCode: 404, Retryable: retryableStatus(404)}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsRetryable_TransportErrors(t *testing.T) {
	wrap := func(err error) error { return &url.Error{Op: "Post", URL: "http://commerce.local", Err: err} }

	assert.True(t, IsRetryable(wrap(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET})))
	assert.True(t, IsRetryable(wrap(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED})))
	assert.True(t, IsRetryable(wrap(&net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded})))
	assert.True(t, IsRetryable(wrap(io.ErrUnexpectedEOF)))

	assert.False(t, IsRetryable(wrap(errors.New(`unsupported protocol scheme "ftp"`))))
	assert.False(t, IsRetryable(wrap(context.Canceled)))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCommerceClient_RetriesOnlyTransientTransportErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"connection reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, 3},
		{"unsupported scheme", errors.New(`unsupported protocol scheme "ftp"`), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			client := NewCommerceClient(CommerceClientOptions{
				BaseURL:        "http://commerce.local",
				MaxAttempts:    3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     2 * time.Millisecond,
				HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
					calls.Add(1)
					return nil, tc.err
				})},
				Logger: zerolog.Nop(),
			})

			_, err := client.FetchLowestPrices(context.Background(), domain.LowestPriceQuery{VariantIDs: []string{"v1"}})
			require.Error(t, err)
			assert.Equal(t, tc.wantCalls, calls.Load())
		})
	}
}
