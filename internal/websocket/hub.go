package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"emeharness/internal/eme"
	"emeharness/internal/infrastructure"
	"emeharness/internal/mediasource"
)

// Message types broadcast to harness log clients
const (
	TypeConnection = "connection"
	TypeSession    = "session"
	TypeLicense    = "license"
	TypeProgress   = "progress"
	TypeLog        = "log"
)

// Message levels
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// broadcastBuffer bounds the queue between producers and the hub loop.
// Producers drop messages rather than block when it is full.
const broadcastBuffer = 256

// Message is one harness log entry on the wire.
type Message struct {
	Type      string      `json:"type"`
	Level     string      `json:"level,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Hub keeps the set of connected clients and fans out harness events to
// them. All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	mu       sync.RWMutex
	count    int
	sent     int64
	dropped  int64
	running  bool
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. A nil metrics records nothing.
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if metrics == nil {
		metrics = infrastructure.NewNoopBusinessMetrics()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start runs the hub loop on its own goroutine. It is a no-op when the hub
// is already running.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.remove(client)
			}
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			ctx := client.context()
			h.metrics.WebSocketClients.Add(ctx, 1)
			h.logger.InfoContext(ctx, "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", len(h.clients)))

			if data, err := json.Marshal(Message{
				Type:  TypeConnection,
				Level: LevelInfo,
				Data: map[string]string{
					"status":    "connected",
					"client_id": client.id,
				},
				Timestamp: time.Now().UTC(),
				TraceID:   client.traceID,
			}); err == nil {
				client.enqueue(data)
			}

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				h.logger.InfoContext(client.context(), "client unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.enqueue(message) {
					h.logger.WarnContext(client.context(), "client send buffer full, disconnecting",
						slog.String("client_id", client.id))
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
	h.metrics.WebSocketClients.Add(client.context(), -1)
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Stop ends the hub loop and closes every client's send queue, which makes
// the client write pumps send a close frame. Stop waits for the loop to exit
// when it was started.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		<-h.stopped
	}
}

// Register adds a client. It does not block once the hub has stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stats returns counters for the health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":   h.count,
		"messages_sent":    h.sent,
		"messages_dropped": h.dropped,
	}
}

// Publish queues msg for every client. It never blocks: when the queue is
// full the message is dropped and counted.
func (h *Hub) Publish(ctx context.Context, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.TraceID == "" {
		msg.TraceID = infrastructure.GetTraceID(ctx)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.ErrorContext(ctx, "error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", msg.Type))
		return
	}

	select {
	case h.broadcast <- data:
		h.mu.Lock()
		h.sent++
		h.mu.Unlock()
	case <-h.quit:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "broadcast queue full, dropping message",
			slog.String("message_type", msg.Type))
	}
}

// Notify implements eme.Notifier. Session events become harness log entries.
func (h *Hub) Notify(ctx context.Context, event eme.Event) {
	level := LevelInfo
	switch event.Type {
	case eme.EventKeysUpdated:
		level = LevelSuccess
	case eme.EventLicenseFailed, eme.EventUpdateFailed:
		level = LevelError
	}
	h.Publish(ctx, Message{Type: TypeSession, Level: level, Data: event})
}

// LicenseNotice describes one answered or rejected license request.
type LicenseNotice struct {
	KeyIDs   []string `json:"kids"`
	Served   string   `json:"served_kid,omitempty"`
	Error    string   `json:"error,omitempty"`
	Duration string   `json:"duration"`
}

// BroadcastLicense publishes a license request outcome.
func (h *Hub) BroadcastLicense(ctx context.Context, notice LicenseNotice) {
	level := LevelSuccess
	if notice.Error != "" {
		level = LevelError
	}
	h.Publish(ctx, Message{Type: TypeLicense, Level: level, Data: notice})
}

// BroadcastProgress publishes download progress for a track. text is the
// rendered progress line, such as "40%: " or "Length not computable".
func (h *Hub) BroadcastProgress(ctx context.Context, track mediasource.TrackKind, p mediasource.Progress, text string) {
	h.Publish(ctx, Message{
		Type:  TypeProgress,
		Level: LevelInfo,
		Data: map[string]interface{}{
			"track":    track,
			"progress": p,
			"text":     text,
		},
	})
}

// BroadcastLog publishes a free form log line.
func (h *Hub) BroadcastLog(ctx context.Context, level, text string) {
	h.Publish(ctx, Message{Type: TypeLog, Level: level, Data: map[string]string{"message": text}})
}
