package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/flintlabs/flint/internal/metrics"
	"github.com/flintlabs/flint/internal/protocol"
	"github.com/flintlabs/flint/internal/store"
)

// DefaultMaxBodyBytes caps /signal request bodies. SDP offers and ICE
// candidates are a few KB; anything near this limit is not signaling.
const DefaultMaxBodyBytes = 64 * 1024

const infoPage = `Flint Signaling Server (Long-Polling)

Endpoints:
- GET /health - Health check
- GET /poll/{room}?peer_id={id} - Join/poll room for events
- POST /signal - Send signal (X-Peer-Id header required)

Protocol:
1. GET /poll/{room} to join and get peer_id + initial events
2. Poll GET /poll/{room}?peer_id={id} for new events
3. POST /signal with X-Peer-Id header to send signals

Response format: {"peer_id": "uuid", "events": [...]}
`

// Server exposes the broker engine over the native long-polling wire
// protocol.
//
// Routes (see RegisterRoutes):
//   - GET  /{room}, /poll/{room}, /events/{room} : join (no peer_id) or poll
//   - POST /signal                               : Signal/KeepAlive, sender in X-Peer-Id
//   - GET  /health                               : constant OK
//   - GET  /{$}                                  : plain-text protocol info
type Server struct {
	Engine  *Engine
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// MaxBodyBytes caps /signal request bodies; <= 0 means the default.
	MaxBodyBytes int64
}

func NewServer(engine *Engine, logger *slog.Logger, m *metrics.Metrics, maxBodyBytes int64) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		Engine:       engine,
		Log:          logger,
		Metrics:      m,
		MaxBodyBytes: maxBodyBytes,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{room}", s.handleRoom)
	mux.HandleFunc("GET /poll/{room}", s.handleRoom)
	mux.HandleFunc("GET /events/{room}", s.handleRoom)
	mux.HandleFunc("POST /signal", s.handleSignal)
}

// Handler returns a standalone handler for tests and simple deployments. The
// production binary wires routes through httpserver.Server.Mux() instead.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// pollResponse is the join/poll envelope. Each events element is one Event,
// re-serialized to its own JSON string, exactly as queued.
type pollResponse struct {
	PeerID string   `json:"peer_id"`
	Events []string `json:"events"`
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	rawID := r.URL.Query().Get("peer_id")
	if rawID == "" {
		id, events, err := s.Engine.Join(r.Context(), room)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeEnvelope(w, id, events)
		return
	}

	id, err := protocol.ParsePeerID(rawID)
	if err != nil {
		s.Metrics.Inc(metrics.EventMalformedRequest)
		s.writePlain(w, http.StatusBadRequest, "Invalid peer_id")
		return
	}

	events, err := s.Engine.Poll(r.Context(), room, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEnvelope(w, id, events)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	sender, err := protocol.ParsePeerID(r.Header.Get("X-Peer-Id"))
	if err != nil {
		s.Metrics.Inc(metrics.EventMalformedRequest)
		s.writePlain(w, http.StatusBadRequest, "Missing or invalid X-Peer-Id header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writePlain(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		s.writePlain(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	req, err := protocol.ParseRequest(body)
	if err != nil {
		s.Metrics.Inc(metrics.EventMalformedRequest)
		s.writePlain(w, http.StatusBadRequest, "Invalid request")
		return
	}

	switch req := req.(type) {
	case protocol.SignalRequest:
		err = s.Engine.Signal(r.Context(), sender, req)
	case protocol.KeepAliveRequest:
		err = s.Engine.KeepAlive(r.Context(), sender)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writePlain(w, http.StatusOK, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writePlain(w, http.StatusOK, "OK")
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writePlain(w, http.StatusOK, infoPage)
}

func (s *Server) maxBodyBytes() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

func (s *Server) writeEnvelope(w http.ResponseWriter, id protocol.PeerID, events []protocol.Event) {
	strs, err := protocol.EventStrings(events)
	if err != nil {
		s.Log.Error("encode events", "peer", id, "err", err)
		s.writePlain(w, http.StatusInternalServerError, "Internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// No HTML escaping: signal payloads must round-trip byte-for-byte.
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(pollResponse{PeerID: id.String(), Events: strs})
}

// writePlain writes a bare text body with no trailing newline, matching the
// wire protocol's acknowledgment and error bodies exactly.
func (s *Server) writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRoomNameInvalid):
		s.writePlain(w, http.StatusBadRequest, "Invalid room name")
	case errors.Is(err, ErrUnknownPeer):
		s.writePlain(w, http.StatusNotFound, "Peer not found")
	case errors.Is(err, ErrCrossRoomSignal):
		s.writePlain(w, http.StatusConflict, "Peers are not in the same room")
	case errors.Is(err, store.ErrRetriesExhausted):
		s.writePlain(w, http.StatusServiceUnavailable, "State is contended, retry")
	default:
		s.Log.Error("operation failed", "err", err)
		s.writePlain(w, http.StatusInternalServerError, "Internal error")
	}
}
