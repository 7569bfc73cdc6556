package hft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// TerminalWiring is what the pipeline hands to the factory of its terminal stage.
type TerminalWiring struct {
	Orders *Consumer[OrderRequest]
	Execs  *Producer[ExecUpdate]
	Sink   *LogSink
	Config *Config
}

// Terminal is the last stage of the pipeline together with the doorbells it listens on
// and rings. Close, if set, is called after the stage has stopped.
type Terminal struct {
	Stage     Stage
	OrderBell Doorbell
	ExecBell  Doorbell
	Close     func() error
}

// TerminalFactory builds the terminal stage.
type TerminalFactory func(w TerminalWiring) (Terminal, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSource replaces the market data source chosen by the configuration.
func WithSource(src MarketSource) Option {
	return func(p *Pipeline) {
		p.source = src
	}
}

// WithDispatcher sets the dispatcher used by the Trade I/O stage.
func WithDispatcher(d OrderDispatcher) Option {
	return func(p *Pipeline) {
		p.dispatcher = d
	}
}

// WithTerminal replaces the Trade I/O stage.
func WithTerminal(f TerminalFactory) Option {
	return func(p *Pipeline) {
		p.terminalFactory = f
	}
}

// PipelineStats collects the counters of every stage.
type PipelineStats struct {
	Feed    FeedStats
	Shards  []ShardStats
	Risk    RiskStats
	TradeIO TradeIOStats
}

// Pipeline wires feed handler -> strategy shards -> OMS/Risk -> terminal stage with SPSC rings:
//
//	feed ──MarketEvent──▶ shard[i] ──StrategyDecision──▶ risk ──OrderRequest──▶ terminal
//	                      shard[i] ◀──ExecUpdate─────── risk ◀──ExecUpdate───── terminal
type Pipeline struct {
	cfg             *Config
	source          MarketSource
	dispatcher      OrderDispatcher
	terminalFactory TerminalFactory

	logs     *LogAggregator
	feed     *FeedHandler
	shards   []*StrategyShard
	risk     *OMSRisk
	tradeIO  *TradeIO
	terminal Terminal

	started atomic.Bool
}

// NewPipeline builds every stage. Nothing runs until Run.
func NewPipeline(cfg *Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}

	if p.source == nil {
		if cfg.Feed.Source != SourceSynthetic {
			return nil, fmt.Errorf("%w: %q needs an explicit source", ErrUnknownSource, cfg.Feed.Source)
		}
		p.source = NewSyntheticSource(cfg.SyntheticConfig())
	}

	p.logs = NewLogAggregator(cfg.LogRingCapacity, cfg.PollInterval)

	shardEvents := make([]*Producer[MarketEvent], cfg.Shards)
	decisionsIn := make([]*Consumer[StrategyDecision], cfg.Shards)
	shardExecs := make([]*Producer[ExecUpdate], cfg.Shards)
	p.shards = make([]*StrategyShard, cfg.Shards)

	for i := 0; i < cfg.Shards; i++ {
		evP, evC := NewSPSC[MarketEvent](cfg.RingCapacity)
		decP, decC := NewSPSC[StrategyDecision](cfg.RingCapacity)
		exP, exC := NewSPSC[ExecUpdate](cfg.RingCapacity)

		shardEvents[i] = evP
		decisionsIn[i] = decC
		shardExecs[i] = exP
		p.shards[i] = NewStrategyShard(i, cfg.Strategy, evC, decP, exC,
			p.logs.NewSink(fmt.Sprintf("strategy_%d", i)), cfg.PollInterval)
	}

	p.feed = NewFeedHandler(p.source, shardEvents, p.logs.NewSink("feed"), cfg.PollInterval)

	ordersP, ordersC := NewSPSC[OrderRequest](cfg.RingCapacity)
	execsP, execsC := NewSPSC[ExecUpdate](cfg.RingCapacity)

	wiring := TerminalWiring{
		Orders: ordersC,
		Execs:  execsP,
		Sink:   p.logs.NewSink("terminal"),
		Config: cfg,
	}

	if p.terminalFactory != nil {
		term, err := p.terminalFactory(wiring)
		if err != nil {
			return nil, fmt.Errorf("build terminal stage: %w", err)
		}
		p.terminal = term
	} else {
		p.tradeIO = NewTradeIO(wiring.Orders, wiring.Execs, p.dispatcher, wiring.Sink, cfg.PollInterval)
		p.terminal = Terminal{Stage: p.tradeIO}
	}
	if p.terminal.OrderBell == nil {
		p.terminal.OrderBell = NopDoorbell()
	}
	if p.terminal.ExecBell == nil {
		p.terminal.ExecBell = NopDoorbell()
	}
	if p.tradeIO != nil {
		p.tradeIO.bell = p.terminal.OrderBell
		p.tradeIO.execBell = p.terminal.ExecBell
	}

	p.risk = NewOMSRisk(OMSRiskConfig{
		Decisions: decisionsIn,
		Orders:    ordersP,
		OrderBell: p.terminal.OrderBell,
		ExecIn:    execsC,
		ExecBell:  p.terminal.ExecBell,
		ExecOut:   shardExecs,
		Sink:      p.logs.NewSink("oms_risk"),
		Interval:  cfg.PollInterval,
		Risk:      cfg.Risk,
	})

	return p, nil
}

// Run starts every stage on its own goroutine and blocks until ctx is done and all
// stages have returned. A stage failing with an error stops the whole pipeline.
// Log records are drained one last time after the stages stop.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	logCtx, stopLogs := context.WithCancel(context.Background())
	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		_ = p.logs.Run(logCtx)
	}()

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stages := make([]Stage, 0, len(p.shards)+3)
	stages = append(stages, p.feed)
	for _, s := range p.shards {
		stages = append(stages, s)
	}
	stages = append(stages, p.risk, p.terminal.Stage)

	logger.Info("pipeline starting",
		slog.Int("shards", len(p.shards)),
		slog.String("terminal", p.terminal.Stage.Name()),
		slog.String("version", Version),
	)

	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	for i, stage := range stages {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stage.Run(stageCtx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", stage.Name(), err)
				logger.Error("stage failed", slog.String("stage", stage.Name()), slog.String("error", err.Error()))
				cancel()
			}
		}()
	}
	wg.Wait()

	if p.terminal.Close != nil {
		if err := p.terminal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close terminal: %w", err))
		}
	}

	stopLogs()
	<-logsDone

	stats := p.Stats()
	logger.Info("pipeline stopped",
		slog.Uint64("market_events", stats.Feed.Events),
		slog.Uint64("orders_forwarded", stats.Risk.Forwarded),
		slog.Uint64("risk_rejects", stats.Risk.Rejected),
	)

	return errors.Join(errs...)
}

func (p *Pipeline) Feed() *FeedHandler {
	return p.feed
}

func (p *Pipeline) Shards() []*StrategyShard {
	return p.shards
}

func (p *Pipeline) Risk() *OMSRisk {
	return p.risk
}

// TradeIO returns the Trade I/O stage, or nil when a custom terminal is used.
func (p *Pipeline) TradeIO() *TradeIO {
	return p.tradeIO
}

// Terminal returns the terminal stage.
func (p *Pipeline) Terminal() Stage {
	return p.terminal.Stage
}

func (p *Pipeline) Logs() *LogAggregator {
	return p.logs
}

// Stats collects the counters of every stage.
func (p *Pipeline) Stats() PipelineStats {
	stats := PipelineStats{
		Feed:   p.feed.Stats(),
		Shards: make([]ShardStats, len(p.shards)),
		Risk:   p.risk.Stats(),
	}
	for i, s := range p.shards {
		stats.Shards[i] = s.Stats()
	}
	if p.tradeIO != nil {
		stats.TradeIO = p.tradeIO.Stats()
	}
	return stats
}
