package depth

import (
	"fmt"
	"strings"

	"github.com/0x5487/hft"
	"github.com/shopspring/decimal"
)

// restDepth is the body of GET /api/v3/depth.
type restDepth struct {
	LastUpdateID uint64               `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"`
	Asks         [][2]decimal.Decimal `json:"asks"`
}

func (r restDepth) snapshot(symbol string) hft.BookSnapshot {
	return hft.BookSnapshot{
		Symbol:       symbol,
		LastUpdateID: r.LastUpdateID,
		Bids:         toLevels(r.Bids),
		Asks:         toLevels(r.Asks),
	}
}

// depthDiff is one <symbol>@depth event. PrevUpdateID is only sent by the futures streams.
type depthDiff struct {
	EventType     string               `json:"e"`
	EventTime     int64                `json:"E"`
	Symbol        string               `json:"s"`
	FirstUpdateID uint64               `json:"U"`
	FinalUpdateID uint64               `json:"u"`
	PrevUpdateID  uint64               `json:"pu"`
	Bids          [][2]decimal.Decimal `json:"b"`
	Asks          [][2]decimal.Decimal `json:"a"`
}

// combinedMessage wraps every event of a combined stream.
type combinedMessage struct {
	Stream string    `json:"stream"`
	Data   depthDiff `json:"data"`
}

func (d depthDiff) delta() hft.BookDelta {
	levels := make([]hft.LevelDelta, 0, len(d.Bids)+len(d.Asks))
	for _, lvl := range d.Bids {
		levels = append(levels, hft.LevelDelta{Side: hft.Buy, Price: hft.PriceFromDecimal(lvl[0]), Qty: hft.QtyFromDecimal(lvl[1])})
	}
	for _, lvl := range d.Asks {
		levels = append(levels, hft.LevelDelta{Side: hft.Sell, Price: hft.PriceFromDecimal(lvl[0]), Qty: hft.QtyFromDecimal(lvl[1])})
	}
	return hft.BookDelta{
		Symbol:        strings.ToUpper(d.Symbol),
		Levels:        levels,
		FirstUpdateID: d.FirstUpdateID,
		FinalUpdateID: d.FinalUpdateID,
		PrevUpdateID:  d.PrevUpdateID,
		Timestamp:     d.EventTime * 1e6,
	}
}

func toLevels(raw [][2]decimal.Decimal) []hft.Level {
	levels := make([]hft.Level, 0, len(raw))
	for _, lvl := range raw {
		qty := hft.QtyFromDecimal(lvl[1])
		if qty <= 0 {
			continue
		}
		levels = append(levels, hft.Level{Price: hft.PriceFromDecimal(lvl[0]), Qty: qty})
	}
	return levels
}

// streamName is the diff depth stream of symbol at the 100ms update speed.
func streamName(symbol string) string {
	return fmt.Sprintf("%s@depth@100ms", strings.ToLower(symbol))
}
