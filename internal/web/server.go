// Package web serves the one-time file retrieval hook. A link minted during
// verification points at GET /get/{token}; the token is consumed on first
// use, the files are delivered to the user's chat, and any replay gets a 403.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"filegate/internal/gate"
	"filegate/internal/webtoken"
)

// Deliverer pushes a content address to a user's chat.
type Deliverer interface {
	Deliver(ctx context.Context, userID int64, encoded string) error
}

// Server handles retrieval links.
type Server struct {
	httpServer *http.Server
	tokens     *webtoken.Store
	deliverer  Deliverer
	store      gate.Store
	clock      gate.Clock
	logger     gate.Logger
}

// NewServer creates the retrieval hook server listening on addr.
func NewServer(addr string, tokens *webtoken.Store, deliverer Deliverer, store gate.Store, clock gate.Clock, logger gate.Logger) *Server {
	if logger == nil {
		logger = gate.NopLogger{}
	}
	s := &Server{
		tokens:    tokens,
		deliverer: deliverer,
		store:     store,
		clock:     clock,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /get/{token}", s.handleGet)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("token")

	token, ok, err := s.tokens.Take(key)
	if err != nil {
		s.logger.Error("taking web token failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.logger.Info("web token rejected", "ip", clientIP(r))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, forbiddenPage)
		return
	}

	s.logger.Info("web token redeemed", "user", token.UserID, "ip", clientIP(r))
	if err := s.store.IncrementCounter(gate.CounterDay(s.clock.Now()), gate.CounterClicks); err != nil {
		s.logger.Warn("incrementing click counter failed", "error", err)
	}

	// Delivery can take a while for large ranges; do not hold the browser.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.deliverer.Deliver(ctx, token.UserID, token.Address); err != nil {
			s.logger.Error("web delivery failed", "user", token.UserID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
}

// clientIP prefers the proxy-supplied address over the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const successPage = `<!DOCTYPE html>
<html>
<head><title>Files on the way</title></head>
<body>
<h1>Check your chat</h1>
<p>Your files are being sent to you on Telegram. You can close this page.</p>
</body>
</html>
`

const forbiddenPage = `<!DOCTYPE html>
<html>
<head><title>Link expired</title></head>
<body>
<h1>This link is no longer valid</h1>
<p>Retrieval links work exactly once and expire quickly. Request the files again from the bot.</p>
</body>
</html>
`
