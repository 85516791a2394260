package session

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Client represents a connected WebSocket client.
type Client struct {
	ID   uint64
	Conn *websocket.Conn

	mu          sync.RWMutex
	symbols     map[string]bool // contract symbol -> subscribed
	commodities map[string]bool // commodity id -> every contract on it
	allSymbols  bool

	sendCh     chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	bufferSize int

	// stats
	Dropped uint64
}

var clientIDCounter uint64

// NewClient creates a new client wrapping a WebSocket connection.
func NewClient(conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		ID:          atomic.AddUint64(&clientIDCounter, 1),
		Conn:        conn,
		symbols:     make(map[string]bool),
		commodities: make(map[string]bool),
		sendCh:      make(chan []byte, bufferSize),
		done:        make(chan struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe adds contract symbols to the client's subscription.
func (c *Client) Subscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		c.symbols[s] = true
	}
}

// SubscribeCommodities follows every contract on the given commodities,
// including ones listed after the subscription.
func (c *Client) SubscribeCommodities(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.commodities[strings.ToLower(id)] = true
	}
}

// SubscribeAll subscribes the client to all symbols.
func (c *Client) SubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allSymbols = true
}

// Unsubscribe removes symbols and commodities from the client's subscription.
// "*" clears everything.
func (c *Client) Unsubscribe(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if k == "*" {
			c.allSymbols = false
			clear(c.symbols)
			clear(c.commodities)
			return
		}
		delete(c.symbols, k)
		delete(c.commodities, strings.ToLower(k))
	}
}

// IsSubscribed checks if the client receives messages for a contract.
func (c *Client) IsSubscribed(symbol, commodityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.allSymbols {
		return true
	}
	return c.symbols[symbol] || c.commodities[commodityID]
}

// SubscribedSymbols returns the explicitly subscribed contract symbols.
func (c *Client) SubscribedSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.allSymbols {
		return nil // caller should treat nil as "all"
	}
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// IsAllSubscribed returns true if the client is subscribed to all symbols.
func (c *Client) IsAllSubscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allSymbols
}

// Send enqueues data to be sent to the client.
// Returns false if the buffer is full (message dropped).
func (c *Client) Send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		atomic.AddUint64(&c.Dropped, 1)
		return false
	}
}

// SendCh returns the send channel for the write pump.
func (c *Client) SendCh() <-chan []byte {
	return c.sendCh
}

// Done returns a channel that is closed when the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the client connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}
