package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/aacore/internal/eventbus"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusFeed pushes internal/eventbus events to any number of
// connected dashboard/diagnostics WebSocket clients. It never reads
// anything meaningful from the client beyond keepalive pongs.
type StatusFeed struct {
	bus eventbus.Bus

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

// NewStatusFeed subscribes to bus for every event type and fans
// received events out to connected clients.
func NewStatusFeed(bus eventbus.Bus) *StatusFeed {
	f := &StatusFeed{
		bus:     bus,
		clients: make(map[*feedClient]struct{}),
	}

	for _, evtType := range []eventbus.EventType{
		eventbus.EventSessionConnected,
		eventbus.EventSessionDisconnected,
		eventbus.EventChannelOpened,
		eventbus.EventChannelError,
		eventbus.EventFocusChanged,
	} {
		bus.Subscribe(evtType, f.broadcast)
	}

	return f
}

func (f *StatusFeed) broadcast(ctx context.Context, event *eventbus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("api: status feed send buffer full, dropping event for client", "client", c)
		}
	}
	return nil
}

// feedClient is one connected WebSocket client. writePump owns every
// write to conn; readPump owns every read, draining pings/close frames
// only.
type feedClient struct {
	feed *StatusFeed
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// HandleWebSocket upgrades the request and registers the connection as
// a feed client.
func (f *StatusFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{
		feed: f,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.feed.mu.Lock()
		delete(c.feed.clients, c)
		c.feed.mu.Unlock()
		c.conn.Close()
	})
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *feedClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
