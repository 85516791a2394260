package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func decodeMap(t *testing.T, m *Message) map[string]any {
	t.Helper()
	data, err := EncodeJSON(m)
	if err != nil {
		t.Fatalf("EncodeJSON error: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("json.Unmarshal error: %v", err)
	}
	return obj
}

func TestEncodeJSONSystemEvent(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgSystemEvent, Tick: 10, Day: 1, EventCode: EventStartOfDay})
	if obj["type"] != "system_event" {
		t.Fatalf("type = %v, want system_event", obj["type"])
	}
	if obj["eventCode"] != "D" {
		t.Fatalf("eventCode = %v, want D", obj["eventCode"])
	}
}

func TestEncodeJSONListing(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgListing, Symbol: "PARSNIP-SPR-28", CommodityID: "parsnip", Season: "spring", DeliveryDay: 28, MarginRatio: 0.1})
	if obj["type"] != "listing" {
		t.Fatalf("type = %v, want listing", obj["type"])
	}
	if obj["symbol"] != "PARSNIP-SPR-28" {
		t.Fatalf("symbol = %v, want PARSNIP-SPR-28", obj["symbol"])
	}
	if obj["marginRatio"] != "0.1000" {
		t.Fatalf("marginRatio = %v, want 0.1000", obj["marginRatio"])
	}
}

func TestEncodeJSONQuote(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgQuote, Symbol: "PARSNIP-SPR-28", Spot: 35.5, Futures: 35.61, Impact: -0.02, BestBid: 35.49, BestAsk: 35.51})
	if obj["type"] != "quote" {
		t.Fatalf("type = %v, want quote", obj["type"])
	}
	spot, ok := obj["spot"].(string)
	if !ok {
		t.Fatal("spot should be a string")
	}
	if spot != "35.5000" {
		t.Fatalf("spot = %s, want 35.5000", spot)
	}
	if obj["impact"] != "-0.0200" {
		t.Fatalf("impact = %v, want -0.0200", obj["impact"])
	}
}

func TestEncodeJSONTrade(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgTrade, Symbol: "PARSNIP-SPR-28", MatchID: 7, OrderID: 42, Side: 'B', Quantity: 5, Price: 35.5, TraderID: "p1"})
	if obj["type"] != "trade" {
		t.Fatalf("type = %v, want trade", obj["type"])
	}
	if obj["matchId"] == nil {
		t.Fatal("matchId should be present")
	}
	if obj["side"] != "B" {
		t.Fatalf("side = %v, want B", obj["side"])
	}
}

func TestEncodeJSONNewsOptionalFields(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgNews, NewsID: "n1", Title: "Blight", Severity: "high", Scope: "global", DemandDelta: 0.05})
	if obj["type"] != "news" {
		t.Fatalf("type = %v, want news", obj["type"])
	}
	if _, ok := obj["items"]; ok {
		t.Fatal("items should be omitted when empty")
	}
	if _, ok := obj["category"]; ok {
		t.Fatal("category should be omitted when empty")
	}

	obj = decodeMap(t, &Message{Type: MsgNews, NewsID: "n2", Scope: "item", Items: []string{"parsnip"}})
	items, ok := obj["items"].([]any)
	if !ok || len(items) != 1 || items[0] != "parsnip" {
		t.Fatalf("items = %v, want [parsnip]", obj["items"])
	}
}

func TestEncodeJSONDelivery(t *testing.T) {
	obj := decodeMap(t, &Message{Type: MsgDelivery, Symbol: "PARSNIP-SPR-28", Price: 36, Cancelled: 2})
	if obj["type"] != "delivery" {
		t.Fatalf("type = %v, want delivery", obj["type"])
	}
	if obj["cancelled"] != float64(2) {
		t.Fatalf("cancelled = %v, want 2", obj["cancelled"])
	}
}

func TestEncodeJSONUnsupportedType(t *testing.T) {
	_, err := EncodeJSON(&Message{Type: MsgType('Z')})
	if err == nil {
		t.Fatal("expected error for unsupported message type")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("error should mention 'unsupported', got: %v", err)
	}
}

func TestDecodeJSONQuote(t *testing.T) {
	in := &Message{Type: MsgQuote, Tick: 99, Day: 3, Symbol: "PARSNIP-SPR-28", Spot: 35.5, Futures: 35.61, BestBid: 35.49, DayProgress: 0.25}
	data, err := EncodeJSON(in)
	if err != nil {
		t.Fatalf("EncodeJSON error: %v", err)
	}
	out, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON error: %v", err)
	}
	if out.Type != MsgQuote || out.Tick != 99 || out.Day != 3 || out.Symbol != in.Symbol {
		t.Fatalf("header mismatch: %+v", out)
	}
	if out.Spot != 35.5 || out.Futures != 35.61 || out.BestBid != 35.49 || out.DayProgress != 0.25 {
		t.Fatalf("prices mismatch: %+v", out)
	}
}

func TestDecodeJSONTradeSide(t *testing.T) {
	data, _ := EncodeJSON(&Message{Type: MsgTrade, Side: 'S', Quantity: 3, Price: 1})
	out, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON error: %v", err)
	}
	if out.Side != 'S' || out.Quantity != 3 {
		t.Fatalf("trade = %+v", out)
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	if _, err := DecodeJSON([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := DecodeJSON([]byte(`{"type":"quote","spot":"abc"}`)); err == nil {
		t.Fatal("expected error for bad price")
	}
	if _, err := DecodeJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
