// Package status serves the local status surface: the live state snapshot,
// a websocket push of every change, forced refresh, settings and metrics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"friendsbar/internal/logging"
	"friendsbar/internal/overlay"
	"friendsbar/internal/settings"
)

// Runtime is the part of overlay.Runtime the surface drives.
type Runtime interface {
	State() overlay.State
	Subscribe(fn func(overlay.State)) func()
	ForceRefresh() error
	SettingsChanged()
}

// maxBodySize limits PUT /settings payloads.
const maxBodySize = 64 * 1024

// Server is the status HTTP server.
type Server struct {
	addr     string
	rt       Runtime
	prefs    *settings.Settings
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	conns      map[*websocket.Conn]struct{}
}

// New creates a server listening on addr once started.
func New(addr string, rt Runtime, prefs *settings.Settings) *Server {
	return &Server{
		addr:  addr,
		rt:    rt,
		prefs: prefs,
		upgrader: websocket.Upgrader{
			CheckOrigin: localOrigin,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// localOrigin accepts requests without an Origin and from loopback pages.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /state/ws", s.handleStateWS)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logging.Status("status surface listening on %s", s.addr)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		s.closeConns()
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeConns()
		err := srv.Shutdown(shutdownCtx)
		<-errChan
		return err
	}
}

// closeConns closes hijacked websocket connections; Shutdown does not.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.StatusWarn("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.State())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.ForceRefresh(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// SettingsView is the settings payload. The web API key is masked.
type SettingsView struct {
	settings.Snapshot
	HasWebAPIKey bool `json:"hasWebApiKey"`
}

func maskKey(k string) string {
	if k == "" {
		return ""
	}
	if len(k) <= 4 {
		return "****"
	}
	return "****" + k[len(k)-4:]
}

func (s *Server) settingsView(ctx context.Context) SettingsView {
	snap := s.prefs.Snapshot(ctx)
	v := SettingsView{Snapshot: snap, HasWebAPIKey: snap.WebAPIKey != ""}
	v.WebAPIKey = maskKey(snap.WebAPIKey)
	return v
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsView(r.Context()))
}

// handlePutSettings applies a JSON object of storage key to value. Keys are
// applied in sorted order; the first invalid one stops the update.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	applied := 0
	for _, k := range keys {
		if err := s.prefs.Apply(r.Context(), k, textValue(body[k])); err != nil {
			if applied > 0 {
				s.rt.SettingsChanged()
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		applied++
	}
	if applied > 0 {
		s.rt.SettingsChanged()
		logging.Status("applied %d setting(s)", applied)
	}
	writeJSON(w, http.StatusOK, s.settingsView(r.Context()))
}

func textValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}

// handleStateWS pushes the state on connect and after every change. A slow
// reader only ever gets the latest state.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.StatusWarn("websocket upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	send := make(chan []byte, 1)
	done := make(chan struct{})

	unsubscribe := s.rt.Subscribe(func(st overlay.State) {
		data, err := json.Marshal(st)
		if err != nil {
			logging.StatusWarn("encode state: %v", err)
			return
		}
		select {
		case send <- data:
			return
		default:
		}
		select {
		case <-send:
		default:
		}
		select {
		case send <- data:
		default:
		}
	})

	defer func() {
		unsubscribe()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Reads only detect the peer going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Get(logging.CategoryStatus).Debug("websocket write: %v", err)
				_ = conn.Close()
				<-done
				return
			}
		}
	}
}
