package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blastgcp/blastq/internal/domain"
)

const writeWait = 10 * time.Second

// subscriber is one websocket watching one job.
type subscriber struct {
	conn *websocket.Conn

	// mu serialises writes; gorilla allows one concurrent writer.
	mu     sync.Mutex
	closed bool
}

// send writes st and, if it is terminal, closes the connection.
func (s *subscriber) send(st domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(st); err != nil {
		s.closeLocked()
		return err
	}
	if st.State.Terminal() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.closeLocked()
	}
	return nil
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *subscriber) closeLocked() {
	if !s.closed {
		s.closed = true
		s.conn.Close()
	}
}

// Hub tracks the websocket subscribers of every job.
// Map key: JobID -> set of subscribers
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
	log  *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*subscriber]struct{}), log: log}
}

func (h *Hub) register(jobID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[jobID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(jobID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[jobID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
	}
}

// Count returns the number of subscribers watching jobID.
func (h *Hub) Count(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// Deliver forwards st to every subscriber of its job.
func (h *Hub) Deliver(st domain.JobStatus) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[st.JobID]))
	for s := range h.subs[st.JobID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(st); err != nil {
			h.log.Warn("Failed to write to websocket", "jobID", st.JobID, "error", err)
		}
	}
}

// Broadcast listens to status updates and forwards them to connected clients.
// It returns when ctx is done or the update channel closes.
func (h *Hub) Broadcast(ctx context.Context, q domain.JobQueue) error {
	h.log.Info("Starting status broadcaster...")

	updates, err := q.SubscribeStatus(ctx)
	if err != nil {
		return err
	}
	for st := range updates {
		h.Deliver(st)
	}
	return nil
}
