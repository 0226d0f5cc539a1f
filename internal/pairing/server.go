package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// joinRequest is the wire shape a joiner's CLI posts to a remote
// initiator's pairing server. It mirrors JoinInfo field for field; kept as
// a separate type so the wire format and the in-process struct can drift
// independently.
type joinRequest struct {
	Code         string `json:"code"`
	DeviceID     string `json:"device_id"`
	DeviceName   string `json:"device_name"`
	PublicKeyHex string `json:"public_key_hex"`
}

type joinResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ServerConfig configures the network-facing pairing listener.
type ServerConfig struct {
	// ListenAddress is the host:port a joiner's CLI dials to submit a
	// join request. Distinct from the sync transport's listen address:
	// this is a plain HTTP endpoint, reachable before any peer key
	// material exists to negotiate an encrypted stream.
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// Server accepts join submissions over the network on behalf of a local
// Session. It has no notion of local operator commands (initiate, accept,
// reject); those travel over the daemon's existing Unix-socket control
// surface instead. Only /join and its /join/status poll cross the network,
// since they are the pairing steps a remote device must be able to reach.
type Server struct {
	cfg      ServerConfig
	session  *Session
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer wraps session for network-facing join submissions.
func NewServer(cfg ServerConfig, session *Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, session: session, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/join", s.handleJoin)
	mux.HandleFunc("/join/status", s.handleJoinStatus)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins accepting join submissions in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("pairing server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the listener's bound address, useful when ListenAddress
// used a ":0" ephemeral port (as in tests).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJoinResponse(w, http.StatusBadRequest, joinResponse{Status: StatusInvalidCode, Error: "malformed request body"})
		return
	}

	result, err := s.session.Join(req.Code, JoinInfo{
		DeviceID:     req.DeviceID,
		DeviceName:   req.DeviceName,
		PublicKeyHex: req.PublicKeyHex,
	})
	if err != nil {
		s.logger.Warn("join rejected", "status", result.Status, "error", err)
	}

	writeJoinResponse(w, http.StatusOK, joinResponse{Status: result.Status})
}

func (s *Server) handleJoinStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	status, ok := s.session.JoinStatus(code)
	if !ok {
		writeJoinResponse(w, http.StatusNotFound, joinResponse{Status: "unknown", Error: "no join recorded for this code"})
		return
	}
	writeJoinResponse(w, http.StatusOK, joinResponse{Status: status})
}

func writeJoinResponse(w http.ResponseWriter, code int, resp joinResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
