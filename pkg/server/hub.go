package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
	"github.com/microbiomedata/funcagg/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// EventType names a scheduler transition streamed on /v1/ws.
type EventType string

const (
	EventCycleStarted  EventType = "cycle_started"
	EventCycleFinished EventType = "cycle_finished"
)

// CycleEvent is the message sent to watchers. Started events carry the
// cycle id and start time only; finished events carry every report.
type CycleEvent struct {
	Type  EventType          `json:"type"`
	Cycle *aggregation.Cycle `json:"cycle"`
}

// watcher is one websocket client with its own outgoing queue.
type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

// ReportHub fans cycle events out to websocket watchers. A watcher whose
// queue is full is disconnected instead of stalling the scheduler. New
// watchers first receive the last finished cycle.
type ReportHub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	last     []byte
	closed   bool
}

// NewReportHub creates an empty hub.
func NewReportHub() *ReportHub {
	return &ReportHub{watchers: make(map[*watcher]struct{})}
}

// Run waits for ctx and then disconnects every watcher.
func (h *ReportHub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for w := range h.watchers {
		h.drop(w)
	}
}

// Publish queues ev for every watcher.
func (h *ReportHub) Publish(ev CycleEvent) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Type == EventCycleFinished {
		h.last = msg
	}
	for w := range h.watchers {
		select {
		case w.send <- msg:
		default:
			log.Printf("Cycle watcher %s too slow, disconnecting", w.conn.RemoteAddr())
			h.drop(w)
		}
	}
	return nil
}

// Watchers returns the number of connected watchers.
func (h *ReportHub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *ReportHub) add(w *watcher) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.last != nil {
		w.send <- h.last
	}
	h.watchers[w] = struct{}{}
	log.Printf("Cycle watcher connected (total: %d)", len(h.watchers))
	return true
}

func (h *ReportHub) remove(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[w]; ok {
		h.drop(w)
		log.Printf("Cycle watcher disconnected (total: %d)", len(h.watchers))
	}
}

// drop must be called with mu held. Closing send stops the writer, which
// closes the connection.
func (h *ReportHub) drop(w *watcher) {
	delete(h.watchers, w)
	close(w.send)
}

// HandleWebSocket upgrades the request and streams cycle events until the
// watcher goes away or the hub shuts down.
func (h *ReportHub) HandleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	w := &watcher{conn: conn, send: make(chan []byte, config.WSChannelBuffer)}
	if !h.add(w) {
		conn.Close()
		return
	}
	go w.writeLoop()
	defer h.remove(w)

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	// Watchers send nothing; reading handles control frames and detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writeLoop is the only writer of w.conn.
func (w *watcher) writeLoop() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.send:
			deadline := time.Now().Add(config.WSWriteDeadline)
			if !ok {
				_ = w.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			w.conn.SetWriteDeadline(deadline)
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
				return
			}
		}
	}
}
