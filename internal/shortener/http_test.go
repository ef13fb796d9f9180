package shortener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShorten(t *testing.T) {
	t.Run("returns shortened URL on success", func(t *testing.T) {
		var gotAPI, gotURL, gotAlias string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAPI = r.URL.Query().Get("api")
			gotURL = r.URL.Query().Get("url")
			gotAlias = r.URL.Query().Get("alias")
			w.Write([]byte(`{"status":"success","shortenedUrl":"https://short.example/abc"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "key-123", nil)
		short := client.Shorten(context.Background(), "https://t.me/bot?start=verify_x")

		if short != "https://short.example/abc" {
			t.Errorf("Shorten() = %s", short)
		}
		if gotAPI != "key-123" {
			t.Errorf("api param = %s", gotAPI)
		}
		if gotURL != "https://t.me/bot?start=verify_x" {
			t.Errorf("url param = %s", gotURL)
		}
		if len(gotAlias) != 8 {
			t.Errorf("alias length = %d, want 8", len(gotAlias))
		}
	})

	t.Run("returns original on error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"error","message":"invalid key"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "bad-key", nil)
		if got := client.Shorten(context.Background(), "https://example.com/x"); got != "https://example.com/x" {
			t.Errorf("Shorten() = %s, want original", got)
		}
	})

	t.Run("returns original on unreachable service", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", "key", nil)
		if got := client.Shorten(context.Background(), "https://example.com/x"); got != "https://example.com/x" {
			t.Errorf("Shorten() = %s, want original", got)
		}
	})

	t.Run("caches successful results", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{"status":"success","shortenedUrl":"https://short.example/abc"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "key", nil)
		client.Shorten(context.Background(), "https://example.com/x")
		client.Shorten(context.Background(), "https://example.com/x")

		if calls != 1 {
			t.Errorf("service calls = %d, want 1", calls)
		}
	})
}
