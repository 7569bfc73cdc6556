package hft

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig tunes the mean-reversion strategy run by every shard.
type StrategyConfig struct {
	ZEnter        float64         `yaml:"z_enter"`
	ZExit         float64         `yaml:"z_exit"`
	Warmup        int             `yaml:"warmup"`         // samples before the first decision
	EntryOffset   decimal.Decimal `yaml:"entry_offset"`   // distance from mid for entries
	SizeRatio     decimal.Decimal `yaml:"size_ratio"`     // share of top-of-book size to trade
	TakeProfit    decimal.Decimal `yaml:"take_profit"`    // unrealized PnL that closes the position
	StopLoss      decimal.Decimal `yaml:"stop_loss"`      // unrealized PnL (negative) that closes the position
	PositionLimit decimal.Decimal `yaml:"position_limit"` // max absolute position per symbol
	MaxSpread     decimal.Decimal `yaml:"max_spread"`     // skip entries on wider spreads, 0 disables
}

// DefaultStrategyConfig returns the defaults used by the demo harness.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		ZEnter:        1.5,
		ZExit:         0.2,
		Warmup:        20,
		EntryOffset:   decimal.RequireFromString("0.05"),
		SizeRatio:     decimal.RequireFromString("0.8"),
		TakeProfit:    decimal.RequireFromString("1.5"),
		StopLoss:      decimal.RequireFromString("-1.5"),
		PositionLimit: decimal.NewFromInt(1),
		MaxSpread:     decimal.RequireFromString("0.05"),
	}
}

type symbolState struct {
	stats       RollingStats
	lastSeq     uint64
	position    Qty
	avgPrice    float64
	realizedPnL float64
}

// applyFill folds a fill into position, average price and realized PnL.
func (st *symbolState) applyFill(side Side, price Price, q Qty) {
	signed := q
	if side == Sell {
		signed = -q
	}
	newPos := st.position + signed
	fillPx := price.Float64()

	switch {
	case st.position == 0 || (st.position > 0) == (signed > 0):
		// adding to position
		st.avgPrice = (st.avgPrice*st.position.Abs().Float64() + fillPx*signed.Abs().Float64()) / newPos.Abs().Float64()
	default:
		closed := math.Min(signed.Abs().Float64(), st.position.Abs().Float64())
		if st.position > 0 {
			st.realizedPnL += (fillPx - st.avgPrice) * closed
		} else {
			st.realizedPnL += (st.avgPrice - fillPx) * closed
		}
		switch {
		case newPos == 0:
			st.avgPrice = 0
		case (newPos > 0) != (st.position > 0):
			// flipped through zero
			st.avgPrice = fillPx
		}
	}
	st.position = newPos
}

func (st *symbolState) unrealized(mid float64) float64 {
	if st.position > 0 {
		return (mid - st.avgPrice) * st.position.Float64()
	}
	return (st.avgPrice - mid) * st.position.Abs().Float64()
}

// ShardStats is a point-in-time copy of a strategy shard's counters.
type ShardStats struct {
	Events      uint64
	Decisions   uint64
	Dropped     uint64
	Regressions uint64 // events whose sequence did not increase for their symbol
	Fills       uint64
	Rejects     uint64
}

// StrategyShard runs the z-score strategy for the symbols hashed to it.
//
// At most one order is in flight per shard: no decision is emitted until an exec update
// (ack, fill, reject or cancel) for the outstanding request comes back.
type StrategyShard struct {
	id       int
	cfg      StrategyConfig
	in       *Consumer[MarketEvent]
	out      *Producer[StrategyDecision]
	execs    *Consumer[ExecUpdate]
	sink     *LogSink
	interval time.Duration

	entryOffset   Price
	maxSpread     Price
	positionLimit Qty
	takeProfit    float64
	stopLoss      float64

	symbols       map[string]*symbolState
	nextRequestID uint64
	inFlight      bool
	inFlightID    uint64

	events      atomic.Uint64
	decisions   atomic.Uint64
	dropped     atomic.Uint64
	regressions atomic.Uint64
	fills       atomic.Uint64
	rejects     atomic.Uint64
}

// NewStrategyShard creates shard id reading market events from in and exec updates
// from execs, and writing decisions to out.
func NewStrategyShard(id int, cfg StrategyConfig, in *Consumer[MarketEvent], out *Producer[StrategyDecision],
	execs *Consumer[ExecUpdate], sink *LogSink, interval time.Duration) *StrategyShard {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StrategyShard{
		id:            id,
		cfg:           cfg,
		in:            in,
		out:           out,
		execs:         execs,
		sink:          sink,
		interval:      interval,
		entryOffset:   PriceFromDecimal(cfg.EntryOffset),
		maxSpread:     PriceFromDecimal(cfg.MaxSpread),
		positionLimit: QtyFromDecimal(cfg.PositionLimit),
		takeProfit:    cfg.TakeProfit.InexactFloat64(),
		stopLoss:      cfg.StopLoss.InexactFloat64(),
		symbols:       make(map[string]*symbolState),
	}
}

func (s *StrategyShard) Name() string {
	return "strategy_shard"
}

func (s *StrategyShard) ID() int {
	return s.id
}

// Run polls exec updates and market events until ctx is done.
func (s *StrategyShard) Run(ctx context.Context) error {
	return pollLoop(ctx, s.sink, s.interval, s.step)
}

func (s *StrategyShard) step() (bool, error) {
	worked := false
	if s.execs != nil && s.execs.Drain(s.onExec) > 0 {
		worked = true
	}

	ev, ok := s.in.Pop()
	if ok {
		s.onEvent(ev)
		worked = true
	}
	return worked, nil
}

func (s *StrategyShard) state(symbol string) *symbolState {
	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	return st
}

func (s *StrategyShard) onExec(u ExecUpdate) {
	if s.inFlight && u.RequestID == s.inFlightID {
		s.inFlight = false
	}

	switch u.ExecType {
	case ExecFill, ExecPartialFill:
		s.fills.Add(1)
		s.state(u.Symbol).applyFill(u.Side, u.FillPrice, u.FillQty)
	case ExecReject:
		s.rejects.Add(1)
		s.sink.Debug("order rejected",
			slog.Int("shard", s.id),
			slog.Uint64("request_id", u.RequestID),
			slog.Int("reason", int(u.Reason)),
		)
	}
}

func (s *StrategyShard) onEvent(ev MarketEvent) {
	s.events.Add(1)
	st := s.state(ev.Symbol)

	if ev.Sequence <= st.lastSeq {
		s.regressions.Add(1)
		s.sink.Warn("sequence regression",
			slog.String("symbol", ev.Symbol),
			slog.Uint64("seq", ev.Sequence),
			slog.Uint64("last_seq", st.lastSeq),
		)
	} else {
		st.lastSeq = ev.Sequence
	}

	mid := (ev.Bid.Float64() + ev.Ask.Float64()) / 2
	midPrice := (ev.Bid + ev.Ask) / 2
	st.stats.Add(mid)
	if st.stats.Count() < int64(s.cfg.Warmup) {
		return
	}
	z := st.stats.ZScore(mid)

	if s.inFlight {
		return
	}

	// exit
	if st.position != 0 {
		pnl := st.unrealized(mid)
		if pnl >= s.takeProfit || pnl <= s.stopLoss || math.Abs(z) < s.cfg.ZExit {
			held := Buy
			if st.position < 0 {
				held = Sell
			}
			s.emit(ev, held.Opposite(), midPrice, st.position.Abs(), z, true)
			return
		}
	}

	// entry
	if math.Abs(z) < s.cfg.ZEnter {
		return
	}
	if s.maxSpread > 0 && ev.Ask-ev.Bid > s.maxSpread {
		return
	}
	if s.positionLimit > 0 && st.position.Abs() >= s.positionLimit {
		return
	}

	side, price := Buy, midPrice-s.entryOffset
	if z > 0 {
		side, price = Sell, midPrice+s.entryOffset
	}
	q := ev.Size.MulRatio(s.cfg.SizeRatio)
	if q <= 0 || price <= 0 {
		return
	}
	s.emit(ev, side, price, q, z, false)
}

func (s *StrategyShard) emit(ev MarketEvent, side Side, price Price, q Qty, z float64, closing bool) {
	s.nextRequestID++
	d := StrategyDecision{
		RequestID: s.nextRequestID,
		Shard:     s.id,
		Symbol:    ev.Symbol,
		Side:      side,
		Price:     price,
		Qty:       q,
		MDEventID: ev.MDEventID,
		Sequence:  ev.Sequence,
		Signal:    z,
		Close:     closing,
		Timestamp: time.Now().UnixNano(),
	}

	if !s.out.Push(d) {
		s.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("strategy").Inc()
		s.sink.Warn("decision queue full, decision dropped",
			slog.Int("shard", s.id),
			slog.String("symbol", ev.Symbol),
			slog.Uint64("request_id", d.RequestID),
		)
		return
	}

	s.inFlight = true
	s.inFlightID = d.RequestID
	s.decisions.Add(1)
	decisionsTotal.WithLabelValues(side.String()).Inc()
}

// InFlight reports whether an order is outstanding. Only meaningful from the shard's goroutine or after Run returned.
func (s *StrategyShard) InFlight() bool {
	return s.inFlight
}

// Position returns the position, average price and realized PnL of symbol.
// Only meaningful from the shard's goroutine or after Run returned.
func (s *StrategyShard) Position(symbol string) (Qty, float64, float64) {
	st, ok := s.symbols[symbol]
	if !ok {
		return 0, 0, 0
	}
	return st.position, st.avgPrice, st.realizedPnL
}

// Stats returns the current counters.
func (s *StrategyShard) Stats() ShardStats {
	return ShardStats{
		Events:      s.events.Load(),
		Decisions:   s.decisions.Load(),
		Dropped:     s.dropped.Load(),
		Regressions: s.regressions.Load(),
		Fills:       s.fills.Load(),
		Rejects:     s.rejects.Load(),
	}
}
