package hft

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger(t *testing.T) {
	t.Helper()
	prev := logger
	SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { SetLogger(prev) })
}

func testPipelineConfig() *Config {
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}
	cfg.Shards = 2
	cfg.PollInterval = 10 * time.Microsecond
	cfg.Feed.Count = 1000
	cfg.Feed.Interval = 0
	cfg.Feed.Seed = 7
	cfg.Strategy.Warmup = 5
	cfg.Strategy.ZEnter = 1.0
	return cfg
}

func TestPipeline_EndToEnd(t *testing.T) {
	quietLogger(t)
	cfg := testPipelineConfig()
	dispatcher := NewMemoryDispatcher()

	p, err := NewPipeline(cfg, WithDispatcher(dispatcher))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// wait until everything the feed emitted has flowed through every stage
	settled := func() bool {
		s := p.Stats()
		if s.Feed.Deltas != 1000 {
			return false
		}
		var events, decisions uint64
		for _, sh := range s.Shards {
			events += sh.Events
			decisions += sh.Decisions
		}
		return events == s.Feed.Events &&
			s.Risk.Received == decisions &&
			s.TradeIO.Orders == s.Risk.Forwarded
	}
	require.Eventually(t, settled, 10*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.True(t, settled())

	cancel()
	require.NoError(t, <-done)

	stats := p.Stats()
	assert.Equal(t, uint64(1000), stats.Feed.Events+stats.Feed.Dropped)

	var decisions, regressions uint64
	for _, sh := range stats.Shards {
		decisions += sh.Decisions
		regressions += sh.Regressions
	}
	assert.Greater(t, decisions, uint64(0), "the scenario should trade")

	// (a) per-symbol sequences only move forward on every shard
	assert.Equal(t, uint64(0), regressions)

	// (b) risk never forwards an order above the limit
	limit := QtyFromDecimal(cfg.Risk.MaxOrderQty)
	assert.LessOrEqual(t, stats.Risk.MaxOrderQty, limit)

	// (c) orders reaching trade I/O never exceed decisions
	assert.LessOrEqual(t, uint64(dispatcher.Count()), decisions)
	assert.LessOrEqual(t, stats.Risk.Forwarded+stats.Risk.Rejected, stats.Risk.Received)

	var lastID uint64
	for _, cmd := range dispatcher.All() {
		assert.LessOrEqual(t, cmd.Qty, limit)
		assert.Greater(t, cmd.ClientOrderID, lastID)
		lastID = cmd.ClientOrderID
		assert.Equal(t, shardFor(cmd.Symbol, cfg.Shards), cmd.Shard, "a symbol always trades on its own shard")
	}

	// every shard got its acks back, so nothing is left in flight
	for _, sh := range p.Shards() {
		assert.False(t, sh.InFlight())
	}
}

func TestPipeline_RunTwice(t *testing.T) {
	quietLogger(t)
	cfg := testPipelineConfig()
	cfg.Feed.Count = 10

	p, err := NewPipeline(cfg, WithDispatcher(NewDiscardDispatcher()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.ErrorIs(t, p.Run(ctx), ErrAlreadyStarted)
}

func TestPipeline_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shards = 0
	_, err := NewPipeline(cfg)
	assert.ErrorIs(t, err, ErrInvalidParam)

	cfg = DefaultConfig()
	cfg.Feed.Source = SourceBinance
	_, err = NewPipeline(cfg)
	assert.ErrorIs(t, err, ErrUnknownSource, "binance needs an explicit source")
}

type failingStage struct{}

func (failingStage) Name() string                  { return "failing" }
func (failingStage) Run(ctx context.Context) error { return ErrDisconnected }

func TestPipeline_StageErrorStopsPipeline(t *testing.T) {
	quietLogger(t)
	cfg := testPipelineConfig()
	cfg.Feed.Count = 0

	closed := false
	p, err := NewPipeline(cfg, WithTerminal(func(w TerminalWiring) (Terminal, error) {
		return Terminal{Stage: failingStage{}, Close: func() error { closed = true; return nil }}, nil
	}))
	require.NoError(t, err)
	assert.Nil(t, p.TradeIO())
	assert.Equal(t, "failing", p.Terminal().Name())

	err = p.Run(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, closed)
}
