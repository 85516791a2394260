package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/harvest-exchange/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage represents a client → server control message.
type controlMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols,omitempty"`
}

// Handler creates the HTTP handler for WebSocket upgrades.
func Handler(mgr *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			mgr.logger.Warn("websocket upgrade error", "error", err)
			return
		}

		client := mgr.Register(conn)

		go writePump(client)
		go readPump(client, mgr)
	}
}

// readPump processes incoming control messages from the client.
func readPump(c *Client, mgr *Manager) {
	defer mgr.Unregister(c)

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
				mgr.logger.Warn("client read error", "client", c.ID, "error", err)
			}
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			mgr.logger.Warn("client invalid message", "client", c.ID, "error", err)
			continue
		}

		handleControl(c, mgr, &ctrl)
	}
}

// handleControl processes a parsed control message.
func handleControl(c *Client, mgr *Manager, ctrl *controlMessage) {
	switch ctrl.Action {
	case "subscribe":
		res := mgr.Resolve(ctrl.Symbols)
		switch {
		case res.All:
			c.SubscribeAll()
			mgr.logger.Info("client subscribed to all symbols", "client", c.ID)
		case len(res.Symbols) > 0 || len(res.Commodities) > 0:
			c.Subscribe(res.Symbols)
			c.SubscribeCommodities(res.Commodities)
			mgr.logger.Info("client subscribed", "client", c.ID, "symbols", res.Symbols, "commodities", res.Commodities)
		default:
			mgr.logger.Info("client subscribe matched nothing", "client", c.ID, "keys", ctrl.Symbols)
			return
		}
		sendListings(c, mgr, res)

	case "unsubscribe":
		c.Unsubscribe(ctrl.Symbols)
		mgr.logger.Info("client unsubscribed", "client", c.ID, "keys", ctrl.Symbols)

	default:
		mgr.logger.Warn("client unknown action", "client", c.ID, "action", ctrl.Action)
	}
}

// sendListings sends a listing and the current quote of each matched
// instrument so the client starts from a full picture.
func sendListings(c *Client, mgr *Manager, res Resolution) {
	msgs := make([]wire.Message, 0, 2*len(res.Quotes))
	for _, q := range res.Quotes {
		msgs = append(msgs, wire.Listing(q), wire.Quote(q))
	}
	mgr.SendToClient(c, msgs)
}

// writePump sends messages from the send channel to the WebSocket.
func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.SendCh():
			if !ok {
				return
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.Done():
			return
		}
	}
}
