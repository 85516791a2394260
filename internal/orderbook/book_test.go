package orderbook

import (
	"errors"
	"math"
	"testing"
)

func limit(side Side, price float64, qty int64, ts int64) *Order {
	return &Order{Side: side, Type: TypeLimit, Price: price, Quantity: qty, Timestamp: ts, TraderID: "t"}
}

func mustPlace(t *testing.T, b *Book, o *Order) Result {
	t.Helper()
	res, err := b.Place(o)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := b.CheckInvariants(); err != nil {
		t.Fatalf("invariants after place: %v", err)
	}
	return res
}

func TestEmptyBook(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	if b.MidPrice() != 0 {
		t.Fatal("empty book MidPrice should be 0")
	}
	if b.BestBid() != 0 {
		t.Fatal("empty book BestBid should be 0")
	}
	if b.BestAsk() != 0 {
		t.Fatal("empty book BestAsk should be 0")
	}
	if b.OrderCount() != 0 {
		t.Fatal("empty book OrderCount should be 0")
	}
}

func TestPlaceRejectsInvalidInput(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	cases := []struct {
		o    *Order
		want error
	}{
		{limit(SideBuy, 10, 0, 1), ErrInvalidQuantity},
		{limit(SideBuy, 10, -3, 1), ErrInvalidQuantity},
		{limit(SideBuy, 0, 5, 1), ErrInvalidPrice},
		{limit(SideSell, math.NaN(), 5, 1), ErrInvalidPrice},
		{limit(SideSell, 0.001, 5, 1), ErrInvalidPrice},
		{&Order{Side: 'X', Quantity: 1, Price: 1}, ErrInvalidSide},
	}
	for i, c := range cases {
		if _, err := b.Place(c.o); !errors.Is(err, c.want) {
			t.Errorf("case %d: err = %v, want %v", i, err, c.want)
		}
	}
	if b.OrderCount() != 0 {
		t.Fatal("rejected orders must not rest")
	}
}

func TestBidDescendingSorting(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 99, 100, 1))
	mustPlace(t, b, limit(SideBuy, 100, 100, 2))
	mustPlace(t, b, limit(SideBuy, 98, 100, 3))
	if b.BestBid() != 100.00 {
		t.Fatalf("BestBid = %f, want 100.00 (highest bid)", b.BestBid())
	}
	d := b.Depth(0)
	if len(d.Bids) != 3 || d.Bids[0].Price != 100 || d.Bids[2].Price != 98 {
		t.Fatalf("bid ladder = %+v", d.Bids)
	}
}

func TestAskAscendingSorting(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideSell, 102, 100, 1))
	mustPlace(t, b, limit(SideSell, 101, 100, 2))
	mustPlace(t, b, limit(SideSell, 103, 100, 3))
	if b.BestAsk() != 101.00 {
		t.Fatalf("BestAsk = %f, want 101.00 (lowest ask)", b.BestAsk())
	}
	if n := len(b.Depth(0).Asks); n != 3 {
		t.Fatalf("ask levels = %d, want 3", n)
	}
}

func TestMidPrice(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 100, 100, 1))
	mustPlace(t, b, limit(SideSell, 102, 100, 2))
	if mid := b.MidPrice(); mid != 101.00 {
		t.Fatalf("MidPrice = %f, want 101.00", mid)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	late := mustPlace(t, b, limit(SideSell, 10, 5, 20)).Order
	early := mustPlace(t, b, limit(SideSell, 10, 5, 10)).Order
	same := mustPlace(t, b, limit(SideSell, 10, 5, 10)).Order

	res := mustPlace(t, b, &Order{Side: SideBuy, Type: TypeMarket, Quantity: 12, Timestamp: 30})
	var makers []uint64
	for _, f := range res.Fills {
		if f.Maker {
			makers = append(makers, f.OrderID)
		}
	}
	if len(makers) != 3 || makers[0] != early.ID || makers[1] != same.ID || makers[2] != late.ID {
		t.Fatalf("maker order = %v, want [%d %d %d]", makers, early.ID, same.ID, late.ID)
	}
	o, ok := b.Order(late.ID)
	if !ok || o.Remaining() != 3 {
		t.Fatalf("latest order should keep 3, got %+v", o)
	}
}

func TestMarketBuyWalksBook(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideSell, 10, 5, 1))
	mustPlace(t, b, limit(SideSell, 11, 5, 2))

	res, err := b.ExecuteMarket(SideBuy, 7, "p1", true, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Filled != 7 {
		t.Fatalf("filled = %d, want 7", res.Filled)
	}
	want := (5*10.0 + 2*11.0) / 7
	if math.Abs(res.VWAP-want) > 1e-9 {
		t.Fatalf("VWAP = %f, want %f", res.VWAP, want)
	}
	if math.Abs(res.VWAP-10.2857) > 1e-4 {
		t.Fatalf("VWAP = %f, want ~10.286", res.VWAP)
	}
	if math.Abs(res.Slippage-(want-10)) > 1e-9 {
		t.Fatalf("slippage = %f, want %f", res.Slippage, want-10)
	}
	if res.Order.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", res.Order.Status)
	}

	d := b.Depth(0)
	if len(d.Asks) != 1 || d.Asks[0].Price != 11 || d.Asks[0].Quantity != 3 {
		t.Fatalf("remaining asks = %+v, want one level 11x3", d.Asks)
	}

	var taker []Fill
	for _, f := range res.Fills {
		if !f.Maker {
			taker = append(taker, f)
		}
	}
	if len(taker) != 2 || taker[0].Price != 10 || taker[0].Quantity != 5 || taker[1].Price != 11 || taker[1].Quantity != 2 {
		t.Fatalf("taker fills = %+v", taker)
	}
}

func TestMarketSellSlippageSign(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 20, 2, 1))
	mustPlace(t, b, limit(SideBuy, 19, 2, 2))
	res, _ := b.ExecuteMarket(SideSell, 4, "p", true, 3)
	if res.VWAP != 19.5 || res.Slippage != 0.5 {
		t.Fatalf("VWAP %f slippage %f, want 19.5 / 0.5", res.VWAP, res.Slippage)
	}
}

func TestMarketOrderEmptySide(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 10, 5, 1))
	res, err := b.ExecuteMarket(SideBuy, 10, "p", true, 2)
	if err != nil {
		t.Fatalf("empty side should not be an error: %v", err)
	}
	if res.Filled != 0 || res.VWAP != 0 || res.Slippage != 0 || len(res.Fills) != 0 {
		t.Fatalf("empty side result = %+v", res)
	}
	if res.Order.Status != StatusCancelled || res.Rested {
		t.Fatal("market remainder must not rest")
	}
}

func TestMarketOrderPartialLiquidity(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideSell, 10, 3, 1))
	res, _ := b.ExecuteMarket(SideBuy, 10, "p", true, 2)
	if res.Filled != 3 || res.Order.Remaining() != 7 || res.Order.Status != StatusCancelled {
		t.Fatalf("partial market = %+v", res.Order)
	}
	if b.OrderCount() != 0 {
		t.Fatal("book should be empty")
	}
}

func TestLimitCrossesThenRests(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideSell, 10, 5, 1))
	mustPlace(t, b, limit(SideSell, 12, 5, 2))

	res := mustPlace(t, b, limit(SideBuy, 11, 8, 3))
	if res.Filled != 5 || !res.Rested || res.Order.Status != StatusPartial {
		t.Fatalf("limit result = %+v", res)
	}
	if b.BestBid() != 11 || b.BestAsk() != 12 {
		t.Fatalf("touch = %f/%f, want 11/12", b.BestBid(), b.BestAsk())
	}
	o, _ := b.Order(res.Order.ID)
	if o.Remaining() != 3 {
		t.Fatalf("rested remainder = %d, want 3", o.Remaining())
	}
}

func TestFillConservation(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	for i, p := range []float64{10, 10, 10.5, 11, 11.5} {
		mustPlace(t, b, limit(SideSell, p, int64(3+i), int64(i)))
	}
	incoming := limit(SideBuy, 11, 20, 10)
	res := mustPlace(t, b, incoming)

	var takerSum, makerSum int64
	for _, f := range res.Fills {
		if f.Maker {
			makerSum += f.Quantity
		} else {
			takerSum += f.Quantity
		}
	}
	if takerSum != makerSum || takerSum != res.Filled {
		t.Fatalf("taker %d maker %d filled %d", takerSum, makerSum, res.Filled)
	}
	if res.Order.Filled+res.Order.Remaining() != res.Order.Quantity {
		t.Fatal("filled + remaining != quantity")
	}
}

func TestCancel(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	res := mustPlace(t, b, limit(SideBuy, 100, 100, 1))
	mustPlace(t, b, limit(SideBuy, 100, 200, 2))
	if !b.Cancel(res.Order.ID) {
		t.Fatal("Cancel returned false for resting order")
	}
	if b.Cancel(res.Order.ID) {
		t.Fatal("second cancel should return false")
	}
	if b.Cancel(999) {
		t.Fatal("cancel of unknown id should return false")
	}
	if b.OrderCount() != 1 || len(b.Depth(0).Bids) != 1 {
		t.Fatal("one order should remain at the level")
	}
	if err := b.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestCancelFilledOrder(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	ask := mustPlace(t, b, limit(SideSell, 10, 5, 1)).Order
	mustPlace(t, b, limit(SideBuy, 10, 5, 2))
	if b.Cancel(ask.ID) {
		t.Fatal("filled order cannot be cancelled")
	}
}

func TestCancelAll(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, &Order{Side: SideBuy, Price: 9, Quantity: 1, TraderID: "a"})
	mustPlace(t, b, &Order{Side: SideSell, Price: 11, Quantity: 1, TraderID: "b"})
	mustPlace(t, b, &Order{Side: SideSell, Price: 12, Quantity: 1, TraderID: "a"})
	gone := b.CancelAll(func(o *Order) bool { return o.TraderID == "a" })
	if len(gone) != 2 {
		t.Fatalf("cancelled %d, want 2", len(gone))
	}
	for _, o := range gone {
		if o.Status != StatusCancelled {
			t.Fatalf("order %d status %s", o.ID, o.Status)
		}
	}
	if len(b.CancelAll(nil)) != 1 || b.OrderCount() != 0 {
		t.Fatal("CancelAll(nil) should empty the book")
	}
}

func TestDepthSnapshot(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 100, 100, 1))
	mustPlace(t, b, limit(SideBuy, 100, 200, 2))
	mustPlace(t, b, limit(SideBuy, 99, 50, 3))
	mustPlace(t, b, limit(SideSell, 101, 300, 4))

	snap := b.Depth(1)
	if len(snap.Bids) != 1 {
		t.Fatalf("Depth bids = %d, want 1", len(snap.Bids))
	}
	if snap.Bids[0].Quantity != 300 {
		t.Fatalf("Depth bid quantity = %d, want 300", snap.Bids[0].Quantity)
	}
	if snap.Bids[0].Orders != 2 {
		t.Fatalf("Depth bid orders = %d, want 2", snap.Bids[0].Orders)
	}
	if snap.BestBid != 100.00 || snap.BestAsk != 101.00 {
		t.Fatalf("touch = %f/%f", snap.BestBid, snap.BestAsk)
	}
	if snap.MidPrice != 100.50 {
		t.Fatalf("Depth MidPrice = %f, want 100.50", snap.MidPrice)
	}
	if snap.Spread != 1.00 {
		t.Fatalf("Depth Spread = %f, want 1.00", snap.Spread)
	}
	if len(b.Depth(0).Bids) != 2 {
		t.Fatal("Depth(0) should return every level")
	}
}

func TestPriceSnapsToTick(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, limit(SideBuy, 10.004, 1, 1))
	mustPlace(t, b, limit(SideBuy, 9.996, 1, 2))
	d := b.Depth(0)
	if len(d.Bids) != 1 || d.Bids[0].Price != 10 || d.Bids[0].Orders != 2 {
		t.Fatalf("snapped bids = %+v", d.Bids)
	}
}

func TestOrdersAndRestore(t *testing.T) {
	seq := &Sequencer{}
	b := NewBook("X", 0.01, seq)
	mustPlace(t, b, limit(SideBuy, 100, 100, 1))
	mustPlace(t, b, limit(SideSell, 101, 200, 2))
	partial := mustPlace(t, b, limit(SideSell, 102, 50, 3)).Order
	mustPlace(t, b, limit(SideBuy, 102, 260, 4)) // takes 101 and 102, rests 10

	saved := b.Orders()
	counter := seq.OrderIDCounter()

	seq2 := &Sequencer{}
	seq2.SetOrderIDCounter(counter)
	restored := NewBook("X", 0.01, seq2)
	restored.Restore(saved)
	restored.Restore(saved) // duplicates ignored
	if err := restored.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
	if restored.OrderCount() != len(saved) {
		t.Fatalf("restored %d orders, want %d", restored.OrderCount(), len(saved))
	}
	if _, ok := restored.Order(partial.ID); ok {
		t.Fatal("fully filled order must not be restored")
	}
	next := mustPlace(t, restored, limit(SideBuy, 1, 1, 9)).Order
	if next.ID <= counter {
		t.Fatalf("new id %d collides with restored counter %d", next.ID, counter)
	}
}

func TestOrdersFor(t *testing.T) {
	b := NewBook("X", 0.01, nil)
	mustPlace(t, b, &Order{Side: SideBuy, Price: 9, Quantity: 1, TraderID: "a"})
	mustPlace(t, b, &Order{Side: SideBuy, Price: 8, Quantity: 1, TraderID: "b"})
	if got := b.OrdersFor("a"); len(got) != 1 || got[0].TraderID != "a" {
		t.Fatalf("OrdersFor(a) = %+v", got)
	}
}
