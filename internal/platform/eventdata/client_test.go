package eventdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oddstream/oddsd/internal/domain"
)

func TestFetchOutcomeSettled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("event"); got != "nba/2026/finals-g7" {
			t.Errorf("event query = %q", got)
		}
		fmt.Fprint(w, `{"settled":true,"outcome":true}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second, 1, time.Millisecond)
	outcome, err := c.FetchOutcome(context.Background(), "nba/2026/finals-g7")
	if err != nil {
		t.Fatalf("FetchOutcome: %v", err)
	}
	if !outcome {
		t.Error("outcome = false, want true")
	}
}

func TestFetchOutcomeRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"settled":true,"outcome":false}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second, 3, time.Millisecond)
	outcome, err := c.FetchOutcome(context.Background(), "evt")
	if err != nil {
		t.Fatalf("FetchOutcome: %v", err)
	}
	if outcome {
		t.Error("outcome = true, want false")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestFetchOutcomeNotSettledIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"settled":false}`)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second, 2, time.Millisecond)
	_, err := c.FetchOutcome(context.Background(), "evt")
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Errorf("err = %v, want ErrTransientIO", err)
	}
}

func TestFetchOutcomeExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, time.Second, 3, time.Millisecond)
	_, err := c.FetchOutcome(context.Background(), "evt")
	if !errors.Is(err, domain.ErrTransientIO) {
		t.Fatalf("err = %v, want ErrTransientIO", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want the full retry budget of 3", got)
	}
}

func TestFetchOutcomeHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, time.Second, 5, time.Hour)
	_, err := c.FetchOutcome(ctx, "evt")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
