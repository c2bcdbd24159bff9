package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestPaidTicketsRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tickets": []map[string]string{{"id": "t1", "status": "PAID"}},
		})
	}))
	defer srv.Close()

	client := NewClient(Options{
		BaseURL:        srv.URL,
		APIKey:         "secret",
		RequestTimeout: time.Second,
		RatePerSecond:  100,
		MaxRetries:     2,
	}, noopLogger())

	tickets, err := client.PaidTickets(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 1 failure + 1 success, got %d calls", calls.Load())
	}
	if len(tickets) != 1 || tickets[0].ID != "t1" {
		t.Fatalf("unexpected tickets: %+v", tickets)
	}
}

func TestPaidTicketsWrapsExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Options{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		RatePerSecond:  100,
		MaxRetries:     1,
	}, noopLogger())

	_, err := client.PaidTickets(context.Background(), "acct-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestPaidTicketsDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Options{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		RatePerSecond:  100,
		MaxRetries:     3,
	}, noopLogger())

	_, err := client.PaidTickets(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("a 404 is not a transient failure: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("a 404 must not be retried, got %d calls", calls.Load())
	}
}

func TestKycStatusDecodesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/acct-1/kyc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"identityStatus": "REJECTED"})
	}))
	defer srv.Close()

	client := NewClient(Options{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		RatePerSecond:  100,
	}, noopLogger())

	status, err := client.KycStatus(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.IdentityStatus != "REJECTED" {
		t.Fatalf("unexpected verdict: %+v", status)
	}
}
