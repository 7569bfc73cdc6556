package hft

import (
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// OrderBook is the local price-level view of one symbol.
//
// Bids are kept in descending order and asks in ascending order. At most one quantity
// is stored per price and a level with zero quantity is never stored.
// It is not safe for concurrent use: one stage owns each book.
type OrderBook struct {
	symbol       string
	bids         *queue
	asks         *queue
	lastUpdateID uint64
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBidQueue(),
		asks:   newAskQueue(),
	}
}

func (book *OrderBook) Symbol() string {
	return book.symbol
}

// LastUpdateID returns the final update id of the last applied delta or snapshot.
func (book *OrderBook) LastUpdateID() uint64 {
	return book.lastUpdateID
}

func (book *OrderBook) side(s Side) *queue {
	if s == Buy {
		return book.bids
	}
	return book.asks
}

// Apply applies every level of delta without any sequence check.
// A delta with Snapshot set clears the book first.
func (book *OrderBook) Apply(delta BookDelta) {
	if delta.Snapshot {
		book.bids.clear()
		book.asks.clear()
	}

	for _, lvl := range delta.Levels {
		book.side(lvl.Side).set(lvl.Price, lvl.Qty)
	}

	if delta.FinalUpdateID != 0 {
		book.lastUpdateID = delta.FinalUpdateID
	}
}

// ApplyChecked applies delta only if it continues the book's update id sequence.
//
// The delta is contiguous when its range [FirstUpdateID, FinalUpdateID] brackets
// LastUpdateID()+1, or when its PrevUpdateID equals LastUpdateID().
// A delta entirely at or below LastUpdateID returns ErrStaleDelta. Anything else
// returns ErrSequenceGap; in both cases the book is left untouched and, after a gap,
// the caller must Reset from a fresh snapshot.
func (book *OrderBook) ApplyChecked(delta BookDelta) error {
	if delta.Snapshot {
		book.Apply(delta)
		return nil
	}

	last := book.lastUpdateID
	if delta.FinalUpdateID <= last {
		return ErrStaleDelta
	}

	bracketed := delta.FirstUpdateID <= last+1 && last+1 <= delta.FinalUpdateID
	bridged := delta.PrevUpdateID != 0 && delta.PrevUpdateID == last
	if !bracketed && !bridged {
		return ErrSequenceGap
	}

	book.Apply(delta)
	return nil
}

// Reset replaces both sides and the last update id with snap.
func (book *OrderBook) Reset(snap BookSnapshot) {
	book.bids.clear()
	book.asks.clear()
	for _, lvl := range snap.Bids {
		book.bids.set(lvl.Price, lvl.Qty)
	}
	for _, lvl := range snap.Asks {
		book.asks.set(lvl.Price, lvl.Qty)
	}
	book.lastUpdateID = snap.LastUpdateID
}

// BestBid returns the highest bid. ok is false when there are no bids.
func (book *OrderBook) BestBid() (Price, Qty, bool) {
	lvl, ok := book.bids.best()
	return lvl.Price, lvl.Qty, ok
}

// BestAsk returns the lowest ask. ok is false when there are no asks.
func (book *OrderBook) BestAsk() (Price, Qty, bool) {
	lvl, ok := book.asks.best()
	return lvl.Price, lvl.Qty, ok
}

// Mid returns (best bid + best ask) / 2. ok is false unless both sides are non-empty.
func (book *OrderBook) Mid() (decimal.Decimal, bool) {
	bid, ok := book.bids.best()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := book.asks.best()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Decimal().Add(ask.Price.Decimal()).Div(two), true
}

// Spread returns best ask - best bid. ok is false unless both sides are non-empty.
func (book *OrderBook) Spread() (Price, bool) {
	bid, ok := book.bids.best()
	if !ok {
		return 0, false
	}
	ask, ok := book.asks.best()
	if !ok {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Depth returns up to limit levels of side from the best price outward. limit <= 0 returns all levels.
func (book *OrderBook) Depth(side Side, limit int) []Level {
	return book.side(side).depth(limit)
}

// Len returns the number of price levels on side.
func (book *OrderBook) Len(side Side) int {
	return book.side(side).depthCount()
}

// Quantity returns the quantity resting at price on side.
func (book *OrderBook) Quantity(side Side, price Price) (Qty, bool) {
	return book.side(side).get(price)
}
