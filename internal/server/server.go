// Package server exposes the controller session over HTTP and WebSocket:
// live input, recording and playback toggles, the captured sequence, and
// persisted macros.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nxpad/go-procon-server/internal/config"
	"github.com/nxpad/go-procon-server/internal/input"
	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/models"
	"github.com/nxpad/go-procon-server/internal/session"
	"github.com/nxpad/go-procon-server/internal/storage"
	"github.com/nxpad/go-procon-server/internal/websocket"
)

// Server is the HTTP control plane in front of a controller session.
type Server struct {
	config *config.Config
	logger *logger.Logger
	state  *session.State
	macros *storage.MacroStore

	wsHandler   *websocket.Handler
	httpServers []*http.Server

	adapterAddr func() string

	eventMu        sync.RWMutex
	eventCallbacks map[string]models.EventCallback
}

// New creates a server around the shared session state.
func New(cfg *config.Config, log *logger.Logger, state *session.State, macros *storage.MacroStore) *Server {
	s := &Server{
		config:         cfg,
		logger:         log.WithName("server"),
		state:          state,
		macros:         macros,
		eventCallbacks: make(map[string]models.EventCallback),
	}
	s.wsHandler = websocket.NewHandler(s, s.logger)
	return s
}

// SetAdapterAddress installs the callback used to report the adapter address
// in status responses. The address is only known once the session has
// initialized, so it is resolved lazily.
func (s *Server) SetAdapterAddress(fn func() string) {
	s.adapterAddr = fn
}

// Subscribe registers an event callback and returns its remover.
func (s *Server) Subscribe(callback models.EventCallback) func() {
	id := models.GenerateMessageID()

	s.eventMu.Lock()
	s.eventCallbacks[id] = callback
	s.eventMu.Unlock()

	return func() {
		s.eventMu.Lock()
		delete(s.eventCallbacks, id)
		s.eventMu.Unlock()
	}
}

// EmitEvent fans an event out to all subscribers.
func (s *Server) EmitEvent(eventType models.EventType, data interface{}) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	for _, callback := range s.eventCallbacks {
		callback(eventType, data)
	}
}

// Status returns the current session snapshot.
func (s *Server) Status() models.StatusMessage {
	msg := models.StatusMessage{
		Phase:          string(s.state.Phase()),
		Recording:      s.state.Recording(),
		Playing:        s.state.Playing(),
		SequenceLength: s.state.SequenceLength(),
		PeerAddress:    s.state.PeerAddress(),
	}
	if s.adapterAddr != nil {
		msg.AdapterAddress = s.adapterAddr()
	}
	return msg
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/gamepad", s.handleSetGamepad).Methods("PUT", "POST")
	api.HandleFunc("/recording", s.handleGetRecording).Methods("GET")
	api.HandleFunc("/recording", s.handleSetRecording).Methods("PUT", "POST")
	api.HandleFunc("/playing", s.handleGetPlaying).Methods("GET")
	api.HandleFunc("/playing", s.handleSetPlaying).Methods("PUT", "POST")
	api.HandleFunc("/sequence", s.handleGetSequence).Methods("GET")
	api.HandleFunc("/sequence", s.handleSetSequence).Methods("PUT", "POST")
	api.HandleFunc("/sequence", s.handleClearSequence).Methods("DELETE")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/macros", s.handleListMacros).Methods("GET")
	api.HandleFunc("/macros/{name}", s.handleSaveMacro).Methods("POST", "PUT")
	api.HandleFunc("/macros/{name}", s.handleGetMacro).Methods("GET")
	api.HandleFunc("/macros/{name}", s.handleDeleteMacro).Methods("DELETE")
	api.HandleFunc("/macros/{name}/load", s.handleLoadMacro).Methods("POST")

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/ws", s.wsHandler.HandleWebSocket)

	return router
}

// Run serves HTTP on every configured listen address until the context ends.
func (s *Server) Run(ctx context.Context) error {
	router := s.Router()

	addresses := s.config.Server.ListenAddresses
	if len(addresses) == 0 {
		addresses = []string{"0.0.0.0"}
	}

	errCh := make(chan error, len(addresses))
	for _, addr := range addresses {
		httpServer := &http.Server{
			Addr:         net.JoinHostPort(addr, strconv.Itoa(s.config.Server.Port)),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		s.httpServers = append(s.httpServers, httpServer)

		go func(srv *http.Server) {
			s.logger.Info("HTTP server listening", logger.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
		}(httpServer)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.EmitEvent(models.EventTypeServerShutdown, nil)
	s.wsHandler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, srv := range s.httpServers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown failed",
				logger.String("address", srv.Addr),
				logger.ErrorField(err),
			)
		}
	}
	s.logger.Info("HTTP server stopped")
}

// handleSetGamepad replaces the live desired packet. The body is the JSON
// hex encoding of one 63-byte input report.
func (s *Server) handleSetGamepad(w http.ResponseWriter, r *http.Request) {
	var packet input.Packet
	if err := json.NewDecoder(r.Body).Decode(&packet); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid packet: %v", err))
		return
	}

	s.state.SetDesiredPacket(packet)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"recording": s.state.Recording()})
}

// handleSetRecording toggles capture. Enabling capture during playback is
// dropped, so the response always reflects the resulting state rather than
// the requested one.
func (s *Server) handleSetRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recording bool `json:"recording"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.state.SetRecording(req.Recording)
	actual := s.state.Recording()

	s.EmitEvent(models.EventTypeRecordingState, map[string]bool{"recording": actual})
	s.writeJSON(w, http.StatusOK, map[string]bool{"recording": actual})
}

func (s *Server) handleGetPlaying(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"playing": s.state.Playing()})
}

func (s *Server) handleSetPlaying(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Playing bool `json:"playing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.state.SetPlaying(req.Playing)

	s.EmitEvent(models.EventTypePlaybackState, map[string]bool{"playing": req.Playing})
	s.writeJSON(w, http.StatusOK, map[string]bool{"playing": s.state.Playing()})
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	sequence := s.state.Sequence()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": sequence,
		"length":   len(sequence),
	})
}

func (s *Server) handleSetSequence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sequence []input.Packet `json:"sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	s.state.SetSequence(req.Sequence)
	s.writeJSON(w, http.StatusOK, map[string]int{"length": len(req.Sequence)})
}

func (s *Server) handleClearSequence(w http.ResponseWriter, r *http.Request) {
	s.state.ClearSequence()

	s.EmitEvent(models.EventTypeSequenceCleared, nil)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleListMacros(w http.ResponseWriter, r *http.Request) {
	macros := s.macros.List()

	type entry struct {
		Name   string `json:"name"`
		Length int    `json:"length"`
	}
	out := make([]entry, 0, len(macros))
	for _, m := range macros {
		out = append(out, entry{Name: m.Name, Length: len(m.Packets)})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"macros": out})
}

// handleSaveMacro persists a sequence under a name. A body with packets saves
// those; an empty body snapshots the current recorded sequence.
func (s *Server) handleSaveMacro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req struct {
		Packets []input.Packet `json:"packets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	packets := req.Packets
	if len(packets) == 0 {
		packets = s.state.Sequence()
	}
	if len(packets) == 0 {
		s.writeError(w, http.StatusBadRequest, "nothing to save: no packets in body and no recorded sequence")
		return
	}

	if err := s.macros.Save(name, packets); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save macro: %v", err))
		return
	}

	s.logger.Info("macro saved",
		logger.String("name", name),
		logger.Int("packets", len(packets)),
	)
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"name": name, "length": len(packets)})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	packets, err := s.macros.Get(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, models.Macro{Name: name, Packets: packets})
}

func (s *Server) handleDeleteMacro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.macros.Delete(name); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleLoadMacro replaces the recorded sequence with a stored macro.
func (s *Server) handleLoadMacro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	packets, err := s.macros.Get(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.state.SetSequence(packets)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "length": len(packets)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"phase":  string(s.state.Phase()),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.String("remote", r.RemoteAddr),
			logger.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
