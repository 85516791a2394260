// Command watch connects to the exchange WebSocket feed, subscribes to
// symbols or commodities, and prints every message in human-readable form.
//
// Usage:
//
//	watch                                  # connect to localhost:8100, subscribe to all
//	watch -url ws://host:8100/feed         # custom endpoint
//	watch -symbols parsnip,MELON-SUM-28    # commodity ids and/or contract symbols
//	watch -raw                             # print the JSON frames unchanged
//	watch -stats 10                        # print message rate stats every N seconds
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndrandal/harvest-exchange/internal/wire"
)

func main() {
	url := flag.String("url", "ws://localhost:8100/feed", "WebSocket endpoint")
	symbols := flag.String("symbols", "*", "Comma-separated symbols, commodity ids, or * for all")
	raw := flag.Bool("raw", false, "Print JSON frames without decoding")
	statsInterval := flag.Int("stats", 0, "Print message rate stats every N seconds (0 = off)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	logger.Info("connecting", "url", *url)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	keys := strings.Split(*symbols, ",")
	if err := sendControl(conn, "subscribe", keys); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "keys", keys)

	var msgCount atomic.Uint64
	if *statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
			defer ticker.Stop()
			var last uint64
			for range ticker.C {
				cur := msgCount.Load()
				rate := float64(cur-last) / float64(*statsInterval)
				logger.Info("stats", "total", cur, "per_sec", fmt.Sprintf("%.1f", rate))
				last = cur
			}
		}()
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(200 * time.Millisecond)
		os.Exit(0)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Error("read failed", "error", err)
			os.Exit(1)
		}
		msgCount.Add(1)

		if *raw {
			fmt.Println(string(data))
			continue
		}
		m, err := wire.DecodeJSON(data)
		if err != nil {
			logger.Warn("undecodable frame", "error", err, "frame", string(data))
			continue
		}
		printMessage(os.Stdout, m)
	}
}

func sendControl(conn *websocket.Conn, action string, keys []string) error {
	data, err := json.Marshal(map[string]any{"action": action, "symbols": keys})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func fmtSide(b byte) string {
	switch b {
	case 'B':
		return "BUY"
	case 'S':
		return "SELL"
	default:
		return string(b)
	}
}

var eventNames = map[byte]string{
	wire.EventStartOfDay:    "START_OF_DAY",
	wire.EventStartOfSeason: "START_OF_SEASON",
}

// printMessage writes one line per message.
func printMessage(w io.Writer, m *wire.Message) {
	switch m.Type {
	case wire.MsgSystemEvent:
		name := eventNames[m.EventCode]
		if name == "" {
			name = fmt.Sprintf("0x%02x", m.EventCode)
		}
		fmt.Fprintf(w, "SYSTEM   tick=%-7d day=%-4d event=%s\n", m.Tick, m.Day, name)
	case wire.MsgListing:
		fmt.Fprintf(w, "LISTING  %-18s commodity=%-12s season=%s delivery=%02d margin=%.2f\n",
			m.Symbol, m.CommodityID, m.Season, m.DeliveryDay, m.MarginRatio)
	case wire.MsgQuote:
		fmt.Fprintf(w, "QUOTE    tick=%-7d %-18s spot=%9.4f fut=%9.4f fund=%9.4f imp=%+8.4f  %9.4f / %-9.4f\n",
			m.Tick, m.Symbol, m.Spot, m.Futures, m.Fundamental, m.Impact, m.BestBid, m.BestAsk)
	case wire.MsgTrade:
		fmt.Fprintf(w, "TRADE    tick=%-7d %-18s %4s %6d @ %.4f  match=%d trader=%s\n",
			m.Tick, m.Symbol, fmtSide(m.Side), m.Quantity, m.Price, m.MatchID, m.TraderID)
	case wire.MsgNews:
		fmt.Fprintf(w, "NEWS     tick=%-7d [%s] %s  demand=%+.0f supply=%+.0f until day %d\n",
			m.Tick, m.Severity, m.Title, m.DemandDelta, m.SupplyDelta, m.EndDay)
	case wire.MsgScenario:
		fmt.Fprintf(w, "SCENARIO tick=%-7d day=%-4d %s\n", m.Tick, m.Day, m.Scenario)
	case wire.MsgDelivery:
		fmt.Fprintf(w, "DELIVERY tick=%-7d %-18s price=%.4f cancelled=%d\n", m.Tick, m.Symbol, m.Price, m.Cancelled)
	default:
		fmt.Fprintf(w, "UNKNOWN  type=%c\n", m.Type)
	}
}
