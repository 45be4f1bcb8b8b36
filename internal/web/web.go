// Package web serves the current heart-rate state over HTTP: a JSON
// snapshot endpoint for polling clients and a websocket endpoint that
// streams every published reading.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hrlink/internal/hrm"
	"hrlink/internal/hub"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server exposes the hub over HTTP and websockets.
type Server struct {
	logger   *logrus.Logger
	hub      *hub.Hub
	addr     string
	upgrader websocket.Upgrader
}

// New creates a server bound to host:port.
func New(logger *logrus.Logger, h *hub.Hub, host string, port int) *Server {
	return &Server{
		logger: logger,
		hub:    h,
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		upgrader: websocket.Upgrader{
			// Readings are public within the bridge; any origin may read.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the route table. Both spellings of each endpoint are
// served so existing overlay clients keep working.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data", s.handleSnapshot)
	mux.HandleFunc("GET /heart_rate", s.handleSnapshot)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /websocket", s.handleWebsocket)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.addr).Info("HTTP server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Query()); err != nil {
		s.logger.WithError(err).Debug("Could not write snapshot response")
	}
}

// handleWebsocket streams readings to one client: the current snapshot
// first, then every reading as it is published. A slow client falls
// behind by at most the subscription queue and is disconnected when a
// write stalls past the timeout.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, snapshot := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	clog := s.logger.WithField("client", conn.RemoteAddr().String())
	clog.Info("Websocket client connected")
	defer clog.Info("Websocket client gone")

	// The read side only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeReading(conn, snapshot); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case reading, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.writeReading(conn, reading); err != nil {
				clog.WithError(err).Debug("Dropping websocket client")
				return
			}
		}
	}
}

func (s *Server) writeReading(conn *websocket.Conn, r hrm.Reading) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(r)
}
