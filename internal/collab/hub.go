package collab

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
	channelName       = "collab_lyrics"
)

// Filters is a connection's subscription. Empty fields match everything.
type Filters struct {
	Source          string `json:"source,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
	ExternalTrackID string `json:"externalTrackId,omitempty"`
}

// Matches reports whether an updated draft passes every non-empty filter.
func (f Filters) Matches(d Draft) bool {
	if f.Source != "" && f.Source != d.Source {
		return false
	}
	if f.ProjectID != "" && f.ProjectID != d.ProjectID {
		return false
	}
	if f.ExternalTrackID != "" && f.ExternalTrackID != d.ExternalTrackID {
		return false
	}
	return true
}

type hubClient struct {
	conn    *websocket.Conn
	filters Filters

	writeMu sync.Mutex
	aliveMu sync.Mutex
	alive   bool
}

func (c *hubClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *hubClient) markAlive() {
	c.aliveMu.Lock()
	c.alive = true
	c.aliveMu.Unlock()
}

// checkAlive reports and clears the liveness flag for one heartbeat tick.
func (c *hubClient) checkAlive() bool {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// HubOptions configures authentication and origin policy for the hub.
type HubOptions struct {
	APIKey         string
	AllowAllOrigin bool
	AllowOrigins   []string

	// Optional observability hooks.
	OnConnect    func()
	OnDisconnect func()
	OnMessage    func()
}

// Hub fans out draft updates to subscribed WebSocket clients.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		opts:    opts,
		clients: make(map[*hubClient]struct{}),
		done:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin policy is enforced before the upgrade so we can answer
		// with a proper status code.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	go h.heartbeatLoop()
	return h
}

// ServeWS handles GET /api/v1/ws.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.opts.APIKey != "" && !h.requestAuthorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "Forbidden origin", http.StatusForbidden)
		return
	}

	q := r.URL.Query()
	filters := Filters{
		Source:          strings.TrimSpace(q.Get("source")),
		ProjectID:       strings.TrimSpace(q.Get("projectId")),
		ExternalTrackID: strings.TrimSpace(q.Get("externalTrackId")),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &hubClient{conn: conn, filters: filters, alive: true}
	conn.SetPongHandler(func(string) error {
		client.markAlive()
		return nil
	})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	if h.opts.OnConnect != nil {
		h.opts.OnConnect()
	}

	ready := map[string]any{
		"type":       "ready",
		"channel":    channelName,
		"filters":    filters,
		"serverTime": time.Now().UTC().Format(time.RFC3339),
	}
	if err := client.writeJSON(ready); err != nil {
		h.drop(client)
		return
	}

	// Inbound frames are ignored; the read loop exists to service control
	// frames and notice the peer going away.
	go func() {
		defer h.drop(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			client.markAlive()
		}
	}()
}

// requestAuthorized accepts the same key sources, in the same order, as the
// gateway's requestKey.
func (h *Hub) requestAuthorized(r *http.Request) bool {
	key := strings.TrimSpace(r.Header.Get("x-api-key"))
	if key == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if key == "" {
		q := r.URL.Query()
		key = strings.TrimSpace(q.Get("apiKey"))
		if key == "" {
			key = strings.TrimSpace(q.Get("token"))
		}
	}
	return key == h.opts.APIKey
}

func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowAllOrigin {
		return true
	}
	for _, allowed := range h.opts.AllowOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil {
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return true
		}
	}
	return false
}

// updateItem is the canonical payload published on each upsert.
type updateItem struct {
	ExternalTrackID string   `json:"externalTrackId"`
	Title           string   `json:"title"`
	ProjectID       string   `json:"projectId,omitempty"`
	Source          string   `json:"source,omitempty"`
	Artist          string   `json:"artist,omitempty"`
	BPM             float64  `json:"bpm,omitempty"`
	UpdatedAt       string   `json:"updatedAt"`
	Collaborators   []string `json:"collaborators"`
}

// Publish fans a draft update out to every connection whose filters match.
func (h *Hub) Publish(d Draft) {
	collaborators := d.Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	msg := map[string]any{
		"type":   "collab_lyrics_updated",
		"sentAt": time.Now().UTC().Format(time.RFC3339),
		"item": updateItem{
			ExternalTrackID: d.ExternalTrackID,
			Title:           d.Title,
			ProjectID:       d.ProjectID,
			Source:          d.Source,
			Artist:          d.Artist,
			BPM:             d.BPM,
			UpdatedAt:       d.UpdatedAt.UTC().Format(time.RFC3339),
			Collaborators:   collaborators,
		},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ERROR collab hub: marshal update: %v", err)
		return
	}

	for _, client := range h.snapshot() {
		if !client.filters.Matches(d) {
			continue
		}
		client.writeMu.Lock()
		client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := client.conn.WriteMessage(websocket.TextMessage, payload)
		client.writeMu.Unlock()
		if err != nil {
			h.drop(client)
			continue
		}
		if h.opts.OnMessage != nil {
			h.opts.OnMessage()
		}
	}
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*hubClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mu.Unlock()
	if ok {
		client.conn.Close()
		if h.opts.OnDisconnect != nil {
			h.opts.OnDisconnect()
		}
	}
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			for _, client := range h.snapshot() {
				if !client.checkAlive() {
					h.drop(client)
					continue
				}
				client.writeMu.Lock()
				client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := client.conn.WriteMessage(websocket.PingMessage, nil)
				client.writeMu.Unlock()
				if err != nil {
					h.drop(client)
				}
			}
		}
	}
}

// Close terminates the heartbeat and every connected socket.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		h.closed = true
		clients := make([]*hubClient, 0, len(h.clients))
		for c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[*hubClient]struct{})
		h.mu.Unlock()

		for _, c := range clients {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
	})
}
