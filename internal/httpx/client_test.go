package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(maxRetries int, base time.Duration) (*Client, *[]time.Duration) {
	waits := &[]time.Duration{}
	c := &Client{
		MaxRetries:  maxRetries,
		BackoffBase: base,
		Timeout:     5 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
	return c, waits
}

func TestDoRecoversAfterServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, waits := testClient(3, time.Second)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, Options{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i, w := range want {
		if (*waits)[i] != w {
			t.Errorf("wait[%d] = %v, want %v", i, (*waits)[i], w)
		}
	}
}

func TestDoReturnsLastResponseWhenAll5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := testClient(3, time.Millisecond)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, Options{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(3, time.Millisecond)
	resp, err := c.Do(context.Background(), http.MethodGet, srv.URL, Options{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDoFailsAfterTransportErrors(t *testing.T) {
	// A closed server makes every attempt a connection error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, waits := testClient(3, time.Second)
	resp, err := c.Do(context.Background(), http.MethodGet, url, Options{})
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected error, got response")
	}
	if len(*waits) != 2 {
		t.Fatalf("retries = %d, want 2", len(*waits))
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		MaxRetries:  3,
		BackoffBase: time.Second,
		Timeout:     5 * time.Second,
		sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	if _, err := c.Do(ctx, http.MethodGet, srv.URL, Options{}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
