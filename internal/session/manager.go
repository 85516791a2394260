package session

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/harvest-exchange/internal/market"
	"github.com/ndrandal/harvest-exchange/internal/wire"
)

// Directory lists the instruments clients can subscribe to.
type Directory interface {
	Quotes() []market.Quote
}

// Manager handles client registration, subscriptions, and message fan-out.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	dir        Directory
	bufferSize int
	logger     *slog.Logger

	dropped atomic.Uint64
}

// NewManager creates a session manager.
func NewManager(dir Directory, bufferSize int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients:    make(map[uint64]*Client),
		dir:        dir,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Register adds a new client. Returns the client for further use.
func (m *Manager) Register(conn *websocket.Conn) *Client {
	c := NewClient(conn, m.bufferSize)

	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	if conn != nil {
		m.logger.Info("client connected", "client", c.ID, "remote", conn.RemoteAddr().String())
	}
	return c
}

// Unregister removes a client.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()

	c.Close()
	m.logger.Info("client disconnected", "client", c.ID, "dropped", atomic.LoadUint64(&c.Dropped))
}

// Resolution is the outcome of matching subscription keys against the
// listed instruments.
type Resolution struct {
	All         bool
	Symbols     []string
	Commodities []string
	Quotes      []market.Quote // current quotes of every matched instrument
}

// Resolve matches keys against the directory. A key is "*", a contract
// symbol or a commodity id. Unknown keys are ignored.
func (m *Manager) Resolve(keys []string) Resolution {
	quotes := m.dir.Quotes()
	for _, k := range keys {
		if k == "*" {
			return Resolution{All: true, Quotes: quotes}
		}
	}

	var r Resolution
	matched := make(map[string]bool)
	for _, k := range keys {
		for _, q := range quotes {
			switch {
			case q.Symbol == k:
				r.Symbols = append(r.Symbols, k)
			case strings.EqualFold(q.CommodityID, k):
				if !contains(r.Commodities, q.CommodityID) {
					r.Commodities = append(r.Commodities, q.CommodityID)
				}
			default:
				continue
			}
			if !matched[q.Symbol] {
				matched[q.Symbol] = true
				r.Quotes = append(r.Quotes, q)
			}
		}
	}
	return r
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Publish fans one tick's batch out. Global messages go to every client,
// symbol messages to subscribers of that contract or its commodity.
// Each message is encoded once.
func (m *Manager) Publish(b wire.Batch) {
	if b.Len() == 0 {
		return
	}
	global := m.encodeAll(b.Global)

	bySymbol := make(map[string][][]byte, len(b.BySymbol))
	commodityOf := make(map[string]string, len(b.BySymbol))
	for _, q := range m.dir.Quotes() {
		commodityOf[q.Symbol] = q.CommodityID
	}
	for sym, msgs := range b.BySymbol {
		bySymbol[sym] = m.encodeAll(msgs)
		for _, msg := range msgs {
			if msg.CommodityID != "" {
				commodityOf[sym] = msg.CommodityID // delivered contracts are no longer listed
			}
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.clients {
		for _, data := range global {
			m.send(c, data)
		}
		for sym, frames := range bySymbol {
			if !c.IsSubscribed(sym, commodityOf[sym]) {
				continue
			}
			for _, data := range frames {
				m.send(c, data)
			}
		}
	}
}

// SendToClient sends messages directly to a specific client (e.g., listings on subscribe).
func (m *Manager) SendToClient(c *Client, msgs []wire.Message) {
	for _, data := range m.encodeAll(msgs) {
		m.send(c, data)
	}
}

func (m *Manager) send(c *Client, data []byte) {
	if !c.Send(data) {
		m.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Dropped returns the number of frames dropped across all clients.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *Manager) encodeAll(msgs []wire.Message) [][]byte {
	out := make([][]byte, 0, len(msgs))
	for i := range msgs {
		data, err := wire.EncodeJSON(&msgs[i])
		if err != nil {
			m.logger.Warn("encode message", "type", string(rune(msgs[i].Type)), "error", err)
			continue
		}
		out = append(out, data)
	}
	return out
}
