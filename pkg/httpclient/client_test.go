package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	client := New()

	if client.maxRetries != 3 {
		t.Errorf("Expected maxRetries=3, got %d", client.maxRetries)
	}
	if client.baseDelay != 2*time.Second {
		t.Errorf("Expected baseDelay=2s, got %v", client.baseDelay)
	}
	if client.strategyFunc == nil {
		t.Error("Expected strategyFunc to be set")
	}
}

func TestNewOptions(t *testing.T) {
	client := New(
		WithMaxRetries(1),
		WithBaseDelay(10*time.Millisecond),
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		WithHeaderParser(ParseOpenAIHeaders),
	)

	if client.maxRetries != 1 {
		t.Errorf("maxRetries = %d, want 1", client.maxRetries)
	}
	if client.baseDelay != 10*time.Millisecond {
		t.Errorf("baseDelay = %v", client.baseDelay)
	}
	if client.client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.client.Timeout)
	}
	if client.headerParser == nil {
		t.Error("headerParser not set")
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		status int
		want   RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusNotFound, NoRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.status); got != tt.want {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDoSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New()
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDoRetriesServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithMaxRetries(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error after retries: %v", err)
	}
	defer resp.Body.Close()
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDoRetriesRateLimitWithRetryAfter(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond), WithHeaderParser(ParseOpenAIHeaders))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestDoNoRetryOn4xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(WithMaxRetries(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if resp != nil {
		resp.Body.Close()
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Errorf("error = %T, want *StatusError", err)
	}
	if IsTransient(err) {
		t.Error("4xx must not be transient")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestDoExhaustedRetriesReturnsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(WithMaxRetries(1), WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if !IsTransient(err) {
		t.Errorf("exhausted retries should be transient, got %T: %v", err, err)
	}
	var te *TransientError
	if errors.As(err, &te) {
		if te.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("StatusCode = %d", te.StatusCode)
		}
		if !strings.Contains(te.Error(), "503") {
			t.Errorf("Error() = %q", te.Error())
		}
	}
}

func TestDoRewindsBodyOnRetry(t *testing.T) {
	var attempts int32
	var lastBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		lastBody = string(buf[:n])
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithMaxRetries(2))
	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"k":"v"}`))

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()
	if lastBody != `{"k":"v"}` {
		t.Errorf("retried body = %q", lastBody)
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &TransientError{Message: "request failed", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Unwrap chain broken")
	}
}
