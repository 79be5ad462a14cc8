package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xelth-com/dairysync/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// MsgSubscribe narrows the collections a client receives events for
const MsgSubscribe = "SUBSCRIBE"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// UI is served from other origins on the office LAN
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	ID        string
	Principal models.Principal

	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	mu          sync.RWMutex
	collections map[string]bool // nil means every collection
}

// ControlMessage is what clients may send
type ControlMessage struct {
	Type        string   `json:"type"`
	MsgID       string   `json:"msgId,omitempty"`
	Collections []string `json:"collections,omitempty"`
}

func (c *Client) wants(collection string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collections == nil || collection == "" || c.collections[collection]
}

func (c *Client) subscribe(collections []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(collections) == 0 {
		c.collections = nil
		return
	}
	c.collections = make(map[string]bool, len(collections))
	for _, name := range collections {
		c.collections[name] = true
	}
}

// readPump reads control messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS error: %v", err)
			}
			break
		}

		var msg ControlMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != MsgSubscribe {
			continue
		}
		c.subscribe(msg.Collections)
		c.SendJSON(map[string]interface{}{
			"type":        "ACK",
			"msgId":       msg.MsgID,
			"collections": msg.Collections,
		})
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON queues a JSON message; it reports false when the buffer is full
func (c *Client) SendJSON(v interface{}) bool {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return false
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ServeWs upgrades the request and registers the connection with the hub
func ServeWs(hub *Hub, principal models.Principal, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	client := &Client{
		ID:        "ui_" + uuid.New().String(),
		Principal: principal,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
