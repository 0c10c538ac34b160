package services

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client is the middleman between one websocket connection and a
// session's broadcast hub.
type Client struct {
	Session *CustomizationSession
	Conn    *websocket.Conn
	Send    chan []byte
}

// LivePayload is the message shape customers send over the live
// channel. Field edits flow through it so every connected preview of
// the same session stays in sync.
type LivePayload struct {
	Action   string `json:"action"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

// LiveUpdater applies field edits arriving over the live channel.
type LiveUpdater interface {
	SetFieldValue(sessionID string, index int, value personalization.Value) (SessionSnapshot, error)
}

func (c *Client) ReadPump(updater LiveUpdater) {
	defer func() {
		c.Session.RemoveClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Session %s: websocket read error: %v", c.Session.ID, err)
			}
			break
		}

		var payload LivePayload
		if err := json.Unmarshal(message, &payload); err != nil {
			log.Printf("Session %s: dropping malformed live message: %v", c.Session.ID, err)
			continue
		}

		if payload.Action == "set_field" {
			value := personalization.Value{Text: payload.Text, ImageURL: payload.ImageURL}
			if _, err := updater.SetFieldValue(c.Session.ID, payload.Index, value); err != nil {
				log.Printf("Session %s: live field update rejected: %v", c.Session.ID, err)
			}
			continue
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
