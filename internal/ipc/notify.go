package ipc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multiacct/sessionhost/infrastructure/logging"
	"github.com/multiacct/sessionhost/internal/monitor"
)

// notificationChannels is the fixed set of one-way main→shell notification
// names (spec §6 "Notifications (main → shell)"); anything else a domain
// publish carries is dropped rather than forwarded.
var notificationChannels = map[string]bool{
	"accounts-updated":          true,
	"account-active-changed":    true,
	"instance-status-changed":   true,
	"view-switching":            true,
	"view-switched":             true,
	"view-switch-failed":        true,
	"view-ready":                true,
	"view-error":                true,
	"view-crashed":              true,
	"login-status-changed":      true,
	"connection-status-changed": true,
	"account-error":             true,
	"global-error":              true,
}

// eventToNotification maps a monitor.Event's message (the source is not
// consulted) onto one of the fixed notification names. Engines publish their internal
// event names as Event.Message (e.g. switching's "viewSwitching"); this is
// the one place that translates domain vocabulary into the wire contract.
var eventToNotification = map[string]string{
	"viewSwitching":      "view-switching",
	"viewSwitched":       "view-switched",
	"viewSwitchFailed":   "view-switch-failed",
	"viewReady":          "view-ready",
	"viewError":          "view-error",
	"viewCrashed":        "view-crashed",
	"instanceStopped":    "instance-status-changed",
	"instanceStarted":    "instance-status-changed",
	"instance created":   "instance-status-changed",
	"loginStatusChanged": "login-status-changed",
}

// Notification is the wire shape pushed over the websocket channel.
type Notification struct {
	Channel   string      `json:"channel"`
	AccountID string      `json:"accountId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	At        time.Time   `json:"at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans out notifications to every connected shell websocket client,
// translating domain events published onto the shared event bus into the
// fixed notification vocabulary of spec §6.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	logger  *logging.Logger
}

type client struct {
	conn *websocket.Conn
	send chan Notification
}

// NewHub constructs an empty notification Hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{clients: make(map[*client]bool), logger: logger}
}

// forward is the monitor.Subscriber the Hub registers with the event bus;
// it translates an internal Event into a Notification and broadcasts it,
// silently dropping events with no corresponding shell-facing channel.
func (h *Hub) forward(evt monitor.Event) {
	channel, ok := eventToNotification[evt.Message]
	if !ok {
		if notificationChannels[evt.Message] {
			channel = evt.Message
		} else {
			return
		}
	}

	n := Notification{
		Channel:   channel,
		AccountID: evt.AccountID,
		Payload:   evt.Details,
		At:        evt.Timestamp,
	}
	h.broadcast(n)
}

// Broadcast pushes n to every connected client directly, for notifications
// that originate outside the event bus (e.g. accounts-updated after a
// direct registry mutation).
func (h *Hub) Broadcast(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	h.broadcast(n)
}

func (h *Hub) broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- n:
		default:
			h.logger.WithFields(map[string]interface{}{"channel": n.Channel}).Warn("dropping notification for slow client")
		}
	}
}

// ServeHTTP upgrades the connection and registers it for notification
// fan-out until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Notification, 64)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains c.send to the socket until it is closed.
func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for n := range c.send {
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// readLoop discards incoming frames (the shell never sends over this
// channel) purely to detect disconnects and drive cleanup.
func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
