package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prev := homeDir
	homeDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { homeDir = prev })

	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected missing session to fail")
	}
	if err := SaveSession(Session{UserID: "  "}); err == nil {
		t.Fatalf("expected blank user id to fail")
	}
	if err := SaveSession(Session{UserID: " alice ", APIToken: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.UserID != "alice" || s.APIToken != "tok" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected cleared session to fail")
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/accounts/alice/deposit":
			_, _ = w.Write([]byte(`{"user_id":"alice","wallet":600,"bank":400}`))
		case "/v1/market/evolve":
			if r.Header.Get("X-Admin-Token") != "ops" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"admin token required"}`))
				return
			}
			_, _ = w.Write([]byte(`{"instruments":[{"name":"ACME","price":41}]}`))
		case "/v1/accounts/alice/interest":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"cooldown active","retry_at":"2026-05-11T12:00:00Z"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok")
	a, err := c.Deposit(context.Background(), "alice", 400)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if a.Wallet != 600 || a.Bank != 400 {
		t.Fatalf("unexpected account: %+v", a)
	}

	_, err = c.Interest(context.Background(), "alice")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.RetryAt != "2026-05-11T12:00:00Z" || apiErr.Message != "cooldown active" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}

	prices, err := c.Evolve(context.Background(), " ops ")
	if err != nil || len(prices) != 1 || prices[0].Price != 41 {
		t.Fatalf("evolve = %+v, %v", prices, err)
	}
	if _, err := c.Evolve(context.Background(), ""); !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 without admin token, got %v", err)
	}

	_, err = NewClient(srv.URL, "").Account(context.Background(), "alice")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
