package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/epibuilder/portal/internal/model"
)

// Client represents a WebSocket subscriber for one task.
type Client struct {
	TaskUUID string
	Conn     *websocket.Conn
	Send     chan []byte
}

// Hub maintains active WebSocket connections grouped by task UUID.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to one task's subscribers.
type BroadcastMessage struct {
	TaskUUID string
	Message  []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TaskUUID] == nil {
				h.clients[client.TaskUUID] = make(map[*Client]bool)
			}
			h.clients[client.TaskUUID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.TaskUUID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.TaskUUID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.TaskUUID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProgress sends a pipeline progress update to all task subscribers.
func (h *Hub) BroadcastProgress(taskUUID string, progress int, status model.Status, stage string) {
	h.send(taskUUID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		TaskUUID: taskUUID,
		Progress: progress,
		Status:   status,
		Stage:    stage,
	})
}

// BroadcastComplete sends a completion message to all task subscribers.
func (h *Hub) BroadcastComplete(taskUUID string, status model.Status, epitopes int) {
	h.send(taskUUID, model.WSCompleteMessage{
		Type:     model.WSMessageTypeComplete,
		TaskUUID: taskUUID,
		Status:   status,
		Epitopes: epitopes,
	})
}

// BroadcastError sends a failure message to all task subscribers.
func (h *Hub) BroadcastError(taskUUID string, message string) {
	h.send(taskUUID, model.WSErrorMessage{
		Type:     model.WSMessageTypeError,
		TaskUUID: taskUUID,
		Message:  message,
	})
}

func (h *Hub) send(taskUUID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal ws message: %v", err)
		return
	}
	h.broadcast <- &BroadcastMessage{TaskUUID: taskUUID, Message: data}
}

// HandleConnection services one WebSocket connection until it closes.
func (h *Hub) HandleConnection(c *websocket.Conn, taskUUID string) {
	client := &Client{
		TaskUUID: taskUUID,
		Conn:     c,
		Send:     make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: clients only send control frames, drain until close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
