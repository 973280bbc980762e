// Package websocket pushes export job state changes to browser clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	TaskID string
	Conn   *websocket.Conn
	Send   chan []byte

	pong chan struct{}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by task ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	TaskID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done. Once it
// has returned, Register and Unregister no longer block.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TaskID] == nil {
				h.clients[client.TaskID] = make(map[*Client]bool)
			}
			h.clients[client.TaskID][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", slog.String("task_id", client.TaskID))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", slog.String("task_id", client.TaskID))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.TaskID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client; the caller holds mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.TaskID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.TaskID)
	}
}

// ClientCount returns the number of clients watching taskID.
func (h *Hub) ClientCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[taskID])
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastJob sends the job's current status to its subscribers. The
// message is dropped if the hub is backed up.
func (h *Hub) BroadcastJob(job *model.Job) {
	if job == nil {
		return
	}
	msg := model.WSStateMessage{
		Type:               model.WSMessageTypeState,
		TaskStatusResponse: model.NewTaskStatus(job.ID, job),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal state message", slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{TaskID: job.ID, Message: data}:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event", slog.String("task_id", job.ID))
	}
}

// Listen relays job transitions published on Redis to the hub until ctx
// is done.
func (h *Hub) Listen(ctx context.Context, rdb *redis.Client) error {
	sub := rdb.PSubscribe(ctx, jobs.EventPattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var job model.Job
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				h.logger.Warn("invalid job event", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			h.BroadcastJob(&job)
		}
	}
}

// HandleConnection serves one WebSocket client watching taskID. initial,
// when set, is sent before any event. It returns only after the writer has
// stopped, so the connection is never used once released.
func (h *Hub) HandleConnection(c *websocket.Conn, taskID string, initial *model.TaskStatusResponse) {
	client := &Client{
		TaskID: taskID,
		Conn:   c,
		Send:   make(chan []byte, 16),
		pong:   make(chan struct{}, 1),
	}

	if initial != nil {
		data, err := json.Marshal(model.WSStateMessage{Type: model.WSMessageTypeState, TaskStatusResponse: *initial})
		if err == nil {
			client.Send <- data
		}
	}

	h.Register(client)

	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go h.writeLoop(client, quit, writerDone)

	defer func() {
		close(quit)
		h.Unregister(client)
		<-writerDone
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", slog.String("task_id", taskID), slog.Any("error", err))
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}

// writeLoop is the only writer of client.Conn. It stops when quit is
// closed, when the hub closes client.Send or on a write error.
func (h *Hub) writeLoop(client *Client, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	c := client.Conn
	for {
		select {
		case <-quit:
			return

		case message, ok := <-client.Send:
			if !ok {
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-client.pong:
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
