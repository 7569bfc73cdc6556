package hft

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// MarketSource produces book deltas for the feed handler.
//
// Next must not block for long: ok is false when nothing is available yet.
// io.EOF means the source is exhausted and the feed handler should stop.
type MarketSource interface {
	Next(ctx context.Context) (delta BookDelta, ok bool, err error)
}

// SliceSource replays a fixed list of deltas, then reports io.EOF.
type SliceSource struct {
	deltas []BookDelta
	pos    int
}

func NewSliceSource(deltas []BookDelta) *SliceSource {
	return &SliceSource{deltas: deltas}
}

func (s *SliceSource) Next(ctx context.Context) (BookDelta, bool, error) {
	if s.pos >= len(s.deltas) {
		return BookDelta{}, false, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, true, nil
}

// SyntheticConfig controls the synthetic random-walk generator.
type SyntheticConfig struct {
	Symbols   []string
	Count     int // total deltas across all symbols, 0 for unlimited
	Seed      int64
	BasePrice Price
	Tick      Price
	MaxQty    Qty
	Interval  time.Duration // pacing between deltas, 0 for as fast as possible
}

type syntheticBook struct {
	mid      Price
	bid      Price
	ask      Price
	updateID uint64
}

// SyntheticSource generates top-of-book deltas from a random walk per symbol.
// Each delta removes the previous best levels and installs new ones, and carries
// contiguous update ids so it also passes ApplyChecked.
type SyntheticSource struct {
	cfg     SyntheticConfig
	rng     *rand.Rand
	books   []syntheticBook
	emitted int
	next    int
	nextAt  time.Time
}

// NewSyntheticSource creates a generator. Zero fields take sensible defaults.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 100 * PriceScale
	}
	if cfg.Tick <= 0 {
		cfg.Tick = PriceScale / 100
	}
	if cfg.MaxQty <= 0 {
		cfg.MaxQty = 2 * PriceScale
	}

	books := make([]syntheticBook, len(cfg.Symbols))
	for i := range books {
		books[i].mid = cfg.BasePrice
	}

	return &SyntheticSource{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		books: books,
	}
}

func (s *SyntheticSource) Next(ctx context.Context) (BookDelta, bool, error) {
	if s.cfg.Count > 0 && s.emitted >= s.cfg.Count {
		return BookDelta{}, false, io.EOF
	}
	if s.cfg.Interval > 0 {
		now := time.Now()
		if now.Before(s.nextAt) {
			return BookDelta{}, false, nil
		}
		s.nextAt = now.Add(s.cfg.Interval)
	}

	idx := s.next
	s.next = (s.next + 1) % len(s.books)
	b := &s.books[idx]

	tick := s.cfg.Tick
	b.mid += Price(s.rng.Intn(3)-1) * tick
	if b.mid < 4*tick {
		b.mid = 4 * tick
	}
	half := Price(s.rng.Intn(2)+1) * tick
	bid, ask := b.mid-half, b.mid+half

	lotSize := Qty(PriceScale / 10)
	lots := int(s.cfg.MaxQty / lotSize)
	if lots < 1 {
		lots = 1
	}
	bidQty := Qty(s.rng.Intn(lots)+1) * lotSize
	askQty := Qty(s.rng.Intn(lots)+1) * lotSize

	levels := make([]LevelDelta, 0, 4)
	if b.bid != 0 && b.bid != bid {
		levels = append(levels, LevelDelta{Side: Buy, Price: b.bid, Qty: 0})
	}
	if b.ask != 0 && b.ask != ask {
		levels = append(levels, LevelDelta{Side: Sell, Price: b.ask, Qty: 0})
	}
	levels = append(levels,
		LevelDelta{Side: Buy, Price: bid, Qty: bidQty},
		LevelDelta{Side: Sell, Price: ask, Qty: askQty},
	)
	b.bid, b.ask = bid, ask

	b.updateID++
	s.emitted++

	return BookDelta{
		Symbol:        s.cfg.Symbols[idx],
		Levels:        levels,
		FirstUpdateID: b.updateID,
		FinalUpdateID: b.updateID,
		PrevUpdateID:  b.updateID - 1,
		Timestamp:     time.Now().UnixNano(),
	}, true, nil
}

// FeedStats is a point-in-time copy of the feed handler counters.
type FeedStats struct {
	Deltas  uint64
	Events  uint64
	Dropped uint64
}

// FeedHandler applies source deltas to per-symbol books and routes top-of-book
// events to strategy shards by symbol hash.
type FeedHandler struct {
	source   MarketSource
	outs     []*Producer[MarketEvent]
	sink     *LogSink
	interval time.Duration

	books         map[string]*OrderBook
	seqs          map[string]uint64
	nextMDEventID uint64

	deltas  atomic.Uint64
	events  atomic.Uint64
	dropped atomic.Uint64
}

// NewFeedHandler creates a feed handler writing to one ring per shard.
func NewFeedHandler(source MarketSource, outs []*Producer[MarketEvent], sink *LogSink, interval time.Duration) *FeedHandler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FeedHandler{
		source:   source,
		outs:     outs,
		sink:     sink,
		interval: interval,
		books:    make(map[string]*OrderBook),
		seqs:     make(map[string]uint64),
	}
}

func (f *FeedHandler) Name() string {
	return "feed_handler"
}

// Run pumps the source until ctx is done or the source is exhausted.
func (f *FeedHandler) Run(ctx context.Context) error {
	err := pollLoop(ctx, f.sink, f.interval, func() (bool, error) {
		return f.step(ctx)
	})
	if errors.Is(err, io.EOF) {
		f.sink.Info("market source exhausted",
			slog.Uint64("deltas", f.deltas.Load()),
			slog.Uint64("events", f.events.Load()),
		)
		return nil
	}
	return err
}

func (f *FeedHandler) step(ctx context.Context) (bool, error) {
	delta, ok, err := f.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, err
		}
		f.sink.Warn("market source error", slog.String("error", err.Error()))
		return false, nil
	}
	if !ok {
		return false, nil
	}

	f.handle(delta)
	return true, nil
}

func (f *FeedHandler) handle(delta BookDelta) {
	f.deltas.Add(1)

	book, ok := f.books[delta.Symbol]
	if !ok {
		book = NewOrderBook(delta.Symbol)
		f.books[delta.Symbol] = book
	}
	book.Apply(delta)

	bid, bidQty, ok := book.BestBid()
	if !ok {
		return
	}
	ask, askQty, ok := book.BestAsk()
	if !ok {
		return
	}

	mdEventID := delta.MDEventID
	if mdEventID == 0 {
		f.nextMDEventID++
		mdEventID = f.nextMDEventID
	}

	seq := f.seqs[delta.Symbol] + 1
	f.seqs[delta.Symbol] = seq

	ev := MarketEvent{
		Symbol:    delta.Symbol,
		MDEventID: mdEventID,
		Sequence:  seq,
		Bid:       bid,
		Ask:       ask,
		BidQty:    bidQty,
		AskQty:    askQty,
		Size:      min(bidQty, askQty),
		Timestamp: time.Now().UnixNano(),
	}

	shard := shardFor(delta.Symbol, len(f.outs))
	if !f.outs[shard].Push(ev) {
		f.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("feed").Inc()
		f.sink.Warn("shard queue full, market event dropped",
			slog.String("symbol", ev.Symbol),
			slog.Int("shard", shard),
			slog.Uint64("seq", seq),
		)
		return
	}
	f.events.Add(1)
	marketEventsTotal.WithLabelValues(ev.Symbol).Inc()
}

// Stats returns the current counters.
func (f *FeedHandler) Stats() FeedStats {
	return FeedStats{
		Deltas:  f.deltas.Load(),
		Events:  f.events.Load(),
		Dropped: f.dropped.Load(),
	}
}
