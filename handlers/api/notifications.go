package api

import (
	"bufio"
	"encoding/json"
	"sync"
	"time"

	"graphmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Notification types
const (
	NotifyLabelChanged    = "label_changed"
	NotifyDraftChanged    = "draft_changed"
	NotifyComposerClosed  = "composer_closed"
	NotifyCalendarChanged = "calendar_changed"
)

// Notification is a real-time event for one user's open tabs
type Notification struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
	Time time.Time              `json:"time"`
}

// NotificationHandler fans notifications out to each user's SSE and
// WebSocket subscribers
type NotificationHandler struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Notification // user -> subscriber -> channel
	keepAlive   time.Duration
}

// NewNotificationHandler creates an empty hub
func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{
		subscribers: make(map[string]map[string]chan Notification),
		keepAlive:   30 * time.Second,
	}
}

// Subscribe registers a subscriber for userID and returns its id and
// channel. Call Unsubscribe when done.
func (h *NotificationHandler) Subscribe(userID string) (string, <-chan Notification) {
	id := uuid.New().String()
	ch := make(chan Notification, 16)

	h.mu.Lock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[string]chan Notification)
	}
	h.subscribers[userID][id] = ch
	h.mu.Unlock()

	utils.Log.Debug("Subscriber %s connected for %s", id, userID)
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel
func (h *NotificationHandler) Unsubscribe(userID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[userID]
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
	}
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	}
	utils.Log.Debug("Subscriber %s disconnected for %s", id, userID)
}

// Publish sends a notification to every subscriber of userID. Slow
// subscribers with a full channel miss it.
func (h *NotificationHandler) Publish(userID, typ string, data map[string]interface{}) {
	n := Notification{
		ID:   uuid.New().String(),
		Type: typ,
		Data: data,
		Time: time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers[userID] {
		select {
		case ch <- n:
		default:
			utils.Log.Warn("Notification channel full for subscriber %s", id)
		}
	}
}

// Subscribers returns the number of subscribers of userID
func (h *NotificationHandler) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// HandleSSE streams the caller's notifications as Server-Sent Events
func (h *NotificationHandler) HandleSSE(c *fiber.Ctx) error {
	userID, _, err := CurrentUser(c)
	if err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	id, ch := h.Subscribe(userID)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.Unsubscribe(userID, id)

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case n, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					continue
				}
				w.WriteString("event: " + n.Type + "\ndata: " + string(data) + "\n\n")
			case <-ticker.C:
				w.WriteString(": keepalive\n\n")
			case <-done:
				return
			}
			// a flush error means the client went away
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))

	return nil
}

// HandleWebSocket pushes the caller's notifications over a WebSocket
func (h *NotificationHandler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals(LocalUserID).(string)
	if userID == "" {
		c.Close()
		return
	}

	id, ch := h.Subscribe(userID)
	defer func() {
		h.Unsubscribe(userID, id)
		c.Close()
	}()

	// the reader notices the client closing the socket
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(n); err != nil {
				utils.Log.Error("Failed to send WebSocket notification: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

// UpgradeWebSocket rejects plain HTTP requests on the WebSocket route
func UpgradeWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
