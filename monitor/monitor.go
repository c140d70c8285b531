// Package monitor exposes the broker's event stream over HTTP: a
// liveness check and a Server-Sent-Events feed a plain browser or curl
// can tail. It has no dependency on the wire protocol itself.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/taku-k/mysrv/broker"
)

// Server serves the monitor HTTP endpoints backed by a Broker.
type Server struct {
	httpServer *http.Server
	broker     *broker.Broker
}

// New creates a monitor Server over b.
func New(b *broker.Broker) *Server {
	s := &Server{broker: b}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /events", s.handleSSE)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve starts the HTTP server on lis, blocking until it stops.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitor: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

type eventJSON struct {
	ConnID     string  `json:"conn_id"`
	Kind       string  `json:"kind"`
	Query      string  `json:"query,omitempty"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	At         string  `json:"at"`
}

func kindString(k broker.Kind) string {
	switch k {
	case broker.KindConnect:
		return "connect"
	case broker.KindDisconnect:
		return "disconnect"
	case broker.KindQuery:
		return "query"
	case broker.KindPrepare:
		return "prepare"
	case broker.KindExecute:
		return "execute"
	case broker.KindError:
		return "error"
	}
	return "unknown"
}

func eventToJSON(ev broker.Event) eventJSON {
	j := eventJSON{
		ConnID:     ev.ConnID.String(),
		Kind:       kindString(ev.Kind),
		Query:      ev.Query,
		DurationMs: float64(ev.Duration.Microseconds()) / 1000,
		At:         ev.At.Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		j.Error = ev.Err.Error()
	}
	return j
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsub := s.broker.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventToJSON(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
