// Package gateway is the HTTP front of BLAST-GCP. It accepts searches,
// queues them for the workers and streams job status over websockets.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/platform/web"
	"github.com/blastgcp/blastq/internal/wire"
)

// maxBody caps the size of a submission.
const maxBody = 1 << 20

var programs = []string{"blastn", "blastp", "blastx", "tblastn", "tblastx"}

// Server holds the gateway dependencies.
type Server struct {
	q         domain.JobQueue
	databases []string
	limiter   *web.RateLimiter
	hub       *Hub
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

// NewServer builds a Server. A nil limiter disables rate limiting.
func NewServer(q domain.JobQueue, databases []string, limiter *web.RateLimiter, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	return &Server{
		q:         q,
		databases: databases,
		limiter:   limiter,
		hub:       hub,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // CLI clients send no Origin
		},
	}
}

// Hub returns the websocket hub fed by the status broadcaster.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	submit := s.handleSubmit
	if s.limiter != nil {
		submit = s.limiter.Middleware(submit)
	}
	mux.HandleFunc("POST /api/search", submit)
	mux.HandleFunc("GET /api/databases", s.handleDatabases)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	return enableCORS(mux)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req wire.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Validate
	seq := strings.ToUpper(strings.Join(strings.Fields(req.Sequence), ""))
	if seq == "" {
		writeError(w, http.StatusBadRequest, "sequence is required")
		return
	}
	if !slices.Contains(s.databases, req.Database) {
		writeError(w, http.StatusBadRequest, "database "+req.Database+" is not supported")
		return
	}
	if req.Program == "" {
		req.Program = "blastn"
	}
	if !slices.Contains(programs, req.Program) {
		writeError(w, http.StatusBadRequest, "program "+req.Program+" is not supported")
		return
	}

	job := domain.SearchJob{
		ID:       uuid.New().String(),
		QueryID:  req.QueryID,
		Sequence: seq,
		Database: req.Database,
		Program:  req.Program,
	}

	// The status exists before the job can be picked up.
	queued := domain.JobStatus{JobID: job.ID, State: domain.StateQueued, UpdatedAt: time.Now().UTC()}
	if err := s.q.SaveStatus(r.Context(), queued); err != nil {
		s.log.Error("Failed to save job status", "jobID", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if err := s.q.Publish(r.Context(), job); err != nil {
		s.log.Error("Failed to publish job", "jobID", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.log.Info("Received submission", "jobID", job.ID, "query", job.QueryID, "db", job.Database)
	writeJSON(w, http.StatusAccepted, wire.SubmitResponse{JobID: job.ID, Status: domain.StateQueued})
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.DatabasesResponse{Databases: s.databases})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.q.LoadStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLoadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleWS upgrades the connection and streams the job status until it is terminal.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// 1. Extract JobID from Query Params
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if _, err := s.q.LoadStatus(r.Context(), jobID); err != nil {
		s.writeLoadError(w, err)
		return
	}

	// 2. Upgrade to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn}

	// 3. Register to Hub
	s.log.Info("Client connected via WebSocket", "jobID", jobID, "remoteAddr", conn.RemoteAddr())
	s.hub.register(jobID, sub)
	defer func() {
		s.hub.unregister(jobID, sub)
		sub.close()
		s.log.Info("Client disconnected", "jobID", jobID)
	}()

	// 4. Send the stored status. Loading after registering means a
	// terminal update cannot slip between the two.
	st, err := s.q.LoadStatus(r.Context(), jobID)
	if err != nil {
		s.log.Error("Failed to load job status", "jobID", jobID, "error", err)
		return
	}
	if err := sub.send(st); err != nil {
		return
	}

	// 5. Read until the client goes away or the hub closes the connection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoadError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.log.Error("Failed to load job status", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// enableCORS adds headers to allow requests from browser frontends.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, wire.ErrorResponse{Error: msg})
}
