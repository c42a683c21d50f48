package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gac1u21/harcapture/internal/config"
	"github.com/gac1u21/harcapture/internal/service"
	"github.com/gac1u21/harcapture/internal/session"
)

// Server exposes the recording service over HTTP and a websocket event stream
type Server struct {
	service       service.Service
	cfg           *config.Config
	configFile    string
	activeProfile string
	port          string

	wsUpgrader   websocket.Upgrader
	clientsMu    sync.Mutex
	clients      map[int64]*wsClient
	nextClientID atomic.Int64
	unsubscribe  func()

	httpServer *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Sessions      []session.Snapshot `json:"sessions"`
	LastError     string             `json:"last_error,omitempty"`
	ActiveProfile string             `json:"active_profile"`
	Source        string             `json:"source"`
	ServerURL     string             `json:"server_url"`
	Exclusive     bool               `json:"exclusive"`
}

// HistoryToggleResponse represents the JSON response for the history toggle
type HistoryToggleResponse struct {
	Visible bool   `json:"visible"`
	History string `json:"history"`
}

// New creates a new web server instance for an existing service
func New(svc service.Service, configFile, activeProfile, port string) *Server {
	s := &Server{
		service:       svc,
		cfg:           svc.GetConfig(),
		configFile:    configFile,
		activeProfile: activeProfile,
		port:          port,
		clients:       make(map[int64]*wsClient),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.unsubscribe = svc.Subscribe(s.broadcast)
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/label", s.handleLabel)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/toggle", s.handleHistoryToggle)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start starts the web server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting HAR Capture Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and disconnects every websocket client
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clientsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleIndex serves the control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleTrigger presses the start/stop control of a mode
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "trigger")
		return
	}

	mode, err := session.ParseMode(r.FormValue("mode"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "trigger")
		return
	}

	slog.Debug("Trigger request received", "mode", mode)
	if err := s.service.Trigger(mode); err != nil {
		s.sendErrorResponse(w, statusForError(err), err.Error(), "mode", mode, "operation", "trigger")
		return
	}

	snap, _ := s.service.Snapshot(mode)
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"session": snap,
	})
}

// handleLabel submits or cancels the open label prompt
func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "label")
		return
	}

	action := r.FormValue("action")
	if action == "" {
		action = "submit"
	}

	var err error
	switch action {
	case "submit":
		err = s.service.SubmitLabel(r.FormValue("label"))
	case "cancel":
		err = s.service.CancelLabel()
	default:
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Unknown label action '%s' (valid: submit, cancel)", action), "operation", "label")
		return
	}
	if err != nil {
		s.sendErrorResponse(w, statusForError(err), err.Error(), "action", action, "operation", "label")
		return
	}

	snap, _ := s.service.Snapshot(session.ModeLabelled)
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"session": snap,
	})
}

// handleStatus returns the state of every mode
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendJSON(w, s.statusResponse())
}

// handleHistory returns the activity history as plain text
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	text, err := s.service.History(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "history")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// handleHistoryToggle flips the history visibility
func (s *Server) handleHistoryToggle(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	visible, text, err := s.service.ToggleHistory(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "history_toggle")
		return
	}
	s.sendJSON(w, HistoryToggleResponse{Visible: visible, History: text})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	profiles := []string{}
	if s.configFile != "" {
		names, err := config.ProfileNames(s.configFile)
		if err != nil {
			slog.Debug("Failed to read profiles", "config_file", s.configFile, "error", err)
		} else {
			profiles = names
		}
	}

	s.sendJSON(w, map[string]interface{}{
		"profiles":       profiles,
		"active_profile": s.activeProfile,
	})
}

func (s *Server) statusResponse() StatusResponse {
	return StatusResponse{
		Sessions:      s.service.Status(),
		LastError:     s.service.GetLastError(),
		ActiveProfile: s.activeProfile,
		Source:        s.cfg.Sensors.Source,
		ServerURL:     s.cfg.Server.BaseURL,
		Exclusive:     s.cfg.IsExclusive(),
	}
}

// statusForError maps service errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrModeBusy),
		errors.Is(err, session.ErrTriggerDisabled),
		errors.Is(err, session.ErrAwaitingLabel),
		errors.Is(err, session.ErrNotAwaitingLabel):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyLabel),
		errors.Is(err, session.ErrInvalidLabel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Info("Sending error response to client", logFields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
