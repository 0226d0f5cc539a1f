// Package control provides the daemon's local Unix-socket control surface:
// read-only status and the operator-facing pairing verbs (initiate,
// pending, respond, cancel). It never crosses the network — the one
// pairing step that must reach another machine, submitting a join, is
// exposed instead by internal/pairing's own network-facing server.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/pairing"
)

// EngineInfo exposes the read-only sync engine state the status and peers
// endpoints report.
type EngineInfo interface {
	DeviceID() identity.DeviceID
	DeviceName() string
	IsRunning() bool
	Peers() []identity.DeviceID
	EventCount() int
}

// Pairer exposes the operator-facing side of a pairing handshake: starting
// a session, inspecting what a joiner submitted, and accepting or
// rejecting it. Implemented by *pairing.Session.
type Pairer interface {
	Initiate() (code string, expiresAt time.Time, err error)
	Pending() (pairing.PendingRequest, bool)
	Respond(accept bool) (status string, err error)
	Cancel() error
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Running    bool   `json:"running"`
	PeerCount  int    `json:"peer_count"`
	EventCount int    `json:"event_count"`
}

// PeersResponse is the response for the peers endpoint.
type PeersResponse struct {
	Peers []string `json:"peers"`
}

// InitiateResponse answers a successful /pair/initiate.
type InitiateResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingResponse answers /pair/pending.
type PendingResponse struct {
	Pending     bool   `json:"pending"`
	DeviceID    string `json:"device_id,omitempty"`
	DeviceName  string `json:"device_name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// RespondRequest is the body of a /pair/respond POST.
type RespondRequest struct {
	Accept bool `json:"accept"`
}

// RespondResponse answers /pair/respond.
type RespondResponse struct {
	Status string `json:"status"`
}

// errorResponse is the JSON body written on any handler failure.
type errorResponse struct {
	Error string `json:"error"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./data/control.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg      ServerConfig
	engine   EngineInfo
	pairer   Pairer
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server.
func NewServer(cfg ServerConfig, engine EngineInfo, pairer Pairer) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		pairer: pairer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/pair/initiate", s.handlePairInitiate)
	mux.HandleFunc("/pair/pending", s.handlePairPending)
	mux.HandleFunc("/pair/respond", s.handlePairRespond)
	mux.HandleFunc("/pair/cancel", s.handlePairCancel)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		DeviceID:   s.engine.DeviceID().String(),
		DeviceName: s.engine.DeviceName(),
		Running:    s.engine.IsRunning(),
		PeerCount:  len(s.engine.Peers()),
		EventCount: s.engine.EventCount(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := s.engine.Peers()
	peers := make([]string, len(ids))
	for i, id := range ids {
		peers[i] = id.String()
	}

	writeJSON(w, http.StatusOK, PeersResponse{Peers: peers})
}

func (s *Server) handlePairInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code, expiresAt, err := s.pairer.Initiate()
	if err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, InitiateResponse{Code: code, ExpiresAt: expiresAt})
}

func (s *Server) handlePairPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pending, ok := s.pairer.Pending()
	if !ok {
		writeJSON(w, http.StatusOK, PendingResponse{Pending: false})
		return
	}

	writeJSON(w, http.StatusOK, PendingResponse{
		Pending:     true,
		DeviceID:    pending.DeviceID,
		DeviceName:  pending.DeviceName,
		Fingerprint: pending.Fingerprint,
	})
}

func (s *Server) handlePairRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	status, err := s.pairer.Respond(req.Accept)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RespondResponse{Status: status})
}

func (s *Server) handlePairCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.pairer.Cancel(); err != nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
