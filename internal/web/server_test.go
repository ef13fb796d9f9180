package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filegate/internal/gate"
	"filegate/internal/testutil"
	"filegate/internal/webtoken"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []struct {
		userID  int64
		address string
	}
	done chan struct{}
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{done: make(chan struct{}, 1)}
}

func (d *recordingDeliverer) Deliver(_ context.Context, userID int64, address string) error {
	d.mu.Lock()
	d.delivered = append(d.delivered, struct {
		userID  int64
		address string
	}{userID, address})
	d.mu.Unlock()
	d.done <- struct{}{}
	return nil
}

func newTestServer(t *testing.T) (*Server, *webtoken.Store, *recordingDeliverer, gate.Store) {
	t.Helper()

	tokens, err := webtoken.Open(filepath.Join(t.TempDir(), "tokens.db"), "test", 5*time.Minute)
	if err != nil {
		t.Fatalf("opening token store: %v", err)
	}
	t.Cleanup(func() { tokens.Close() })

	store := testutil.NewTestStore(t)
	deliverer := newRecordingDeliverer()
	server := NewServer("127.0.0.1:0", tokens, deliverer, store, testutil.FixedClock(), nil)
	return server, tokens, deliverer, store
}

func TestHandleGet(t *testing.T) {
	t.Run("valid token delivers and succeeds", func(t *testing.T) {
		server, tokens, deliverer, store := newTestServer(t)

		key, err := tokens.Issue(42, "encoded-address")
		if err != nil {
			t.Fatalf("issuing token: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/get/"+key, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		select {
		case <-deliverer.done:
		case <-time.After(2 * time.Second):
			t.Fatal("delivery never happened")
		}
		deliverer.mu.Lock()
		defer deliverer.mu.Unlock()
		if len(deliverer.delivered) != 1 {
			t.Fatalf("deliveries = %d, want 1", len(deliverer.delivered))
		}
		if deliverer.delivered[0].userID != 42 || deliverer.delivered[0].address != "encoded-address" {
			t.Errorf("delivered = %+v", deliverer.delivered[0])
		}

		clicks, err := store.Counter(gate.CounterDay(testutil.FixedClock().Now()), gate.CounterClicks)
		if err != nil {
			t.Fatalf("reading counter: %v", err)
		}
		if clicks != 1 {
			t.Errorf("clicks = %d, want 1", clicks)
		}
	})

	t.Run("token works exactly once", func(t *testing.T) {
		server, tokens, deliverer, _ := newTestServer(t)

		key, err := tokens.Issue(42, "encoded-address")
		if err != nil {
			t.Fatalf("issuing token: %v", err)
		}

		first := httptest.NewRecorder()
		server.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/get/"+key, nil))
		if first.Code != http.StatusOK {
			t.Fatalf("first status = %d, want 200", first.Code)
		}
		<-deliverer.done

		second := httptest.NewRecorder()
		server.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/get/"+key, nil))
		if second.Code != http.StatusForbidden {
			t.Errorf("second status = %d, want 403", second.Code)
		}
	})

	t.Run("unknown token gets 403", func(t *testing.T) {
		server, _, deliverer, _ := newTestServer(t)

		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get/no-such-token", nil))

		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		deliverer.mu.Lock()
		defer deliverer.mu.Unlock()
		if len(deliverer.delivered) != 0 {
			t.Errorf("deliveries = %d, want 0", len(deliverer.delivered))
		}
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/get/x", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if ip := clientIP(req); ip != "10.0.0.1" {
		t.Errorf("clientIP = %s, want 10.0.0.1", ip)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if ip := clientIP(req); ip != "203.0.113.9" {
		t.Errorf("clientIP = %s, want forwarded address", ip)
	}
}
