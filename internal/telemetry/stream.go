package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sagostin/dynotune/internal/klhdv"
	"github.com/sagostin/dynotune/internal/livequeue"
	"github.com/sagostin/dynotune/internal/orchestrator"
)

// wsClient is a send-channel-per-connection: a slow reader drops frames
// rather than blocking the broadcaster.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure pushed to every connected stream client.
type Frame struct {
	Window       *livequeue.Window[klhdv.Sample] `json:"window,omitempty"`
	Orchestrator *orchestrator.Snapshot          `json:"orchestrator,omitempty"`
	Stamp        int64                           `json:"stamp"`
}

// Stream is a read-only WebSocket broadcaster: it has no control-plane
// endpoints, only /stream, matching the documented external-interface
// scope (no REST API, no file upload).
type Stream struct {
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

// NewStream builds a Stream ready to accept upgrades.
func NewStream() *Stream {
	return &Stream{
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Handler returns the /stream HTTP handler.
func (s *Stream) Handler() http.HandlerFunc {
	return s.handleWS
}

func (s *Stream) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] upgrade error: %v", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	log.Printf("[stream] client %s connected", client.id)

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[stream] client %s disconnected", client.id)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast fans a frame out to every connected client, dropping it for
// clients whose send buffer is full rather than blocking the caller.
func (s *Stream) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// PollQueue periodically drains q and broadcasts each sealed window until
// ctx is cancelled.
func PollQueue(ctx context.Context, s *Stream, q *livequeue.Queue[klhdv.Sample], metrics *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, window := range q.Drain() {
				w := window
				s.Broadcast(Frame{Window: &w, Stamp: time.Now().UnixMilli()})
			}
			if metrics != nil {
				stats := q.Stats()
				metrics.QueueDepth.Set(float64(stats.QueueDepth))
			}
		}
	}
}

// PollOrchestrator periodically broadcasts an orchestrator session's
// progress snapshot until ctx is cancelled or the session reaches a
// terminal status.
func PollOrchestrator(ctx context.Context, s *Stream, sess *orchestrator.Session, metrics *Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := sess.Snapshot()
			s.Broadcast(Frame{Orchestrator: &snap, Stamp: time.Now().UnixMilli()})
			if metrics != nil {
				metrics.OrchestratorIteration.Set(float64(snap.Iteration))
				if len(snap.History) > 0 {
					metrics.OrchestratorMaxAFRError.Set(snap.History[len(snap.History)-1].MaxAFRError)
				}
			}
			switch snap.Status {
			case orchestrator.StatusConverged, orchestrator.StatusFailed,
				orchestrator.StatusMaxIterations, orchestrator.StatusStopped:
				return
			}
		}
	}
}
