package hft

// BookSnapshot is the full state of one book at LastUpdateID.
// Bids and asks are ordered best price first.
type BookSnapshot struct {
	Symbol       string  `json:"symbol"`
	LastUpdateID uint64  `json:"last_update_id"`
	Bids         []Level `json:"bids"`
	Asks         []Level `json:"asks"`
}

// Snapshot copies up to limit levels per side. limit <= 0 copies everything.
func (book *OrderBook) Snapshot(limit int) BookSnapshot {
	return BookSnapshot{
		Symbol:       book.symbol,
		LastUpdateID: book.lastUpdateID,
		Bids:         book.bids.depth(limit),
		Asks:         book.asks.depth(limit),
	}
}

// Delta converts the snapshot to a replacing BookDelta, so consumers that only
// understand deltas can rebuild from it.
func (s BookSnapshot) Delta() BookDelta {
	levels := make([]LevelDelta, 0, len(s.Bids)+len(s.Asks))
	for _, lvl := range s.Bids {
		levels = append(levels, LevelDelta{Side: Buy, Price: lvl.Price, Qty: lvl.Qty})
	}
	for _, lvl := range s.Asks {
		levels = append(levels, LevelDelta{Side: Sell, Price: lvl.Price, Qty: lvl.Qty})
	}

	return BookDelta{
		Symbol:        s.Symbol,
		Levels:        levels,
		FinalUpdateID: s.LastUpdateID,
		Snapshot:      true,
	}
}
