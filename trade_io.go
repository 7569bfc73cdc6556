package hft

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// TradeIOStats is a point-in-time copy of the Trade I/O counters.
type TradeIOStats struct {
	Orders  uint64
	Failed  uint64
	Dropped uint64
}

// TradeIO is the terminal stage of the simplified pipeline. It assigns client order ids,
// hands each command to a dispatcher and acknowledges it upstream.
type TradeIO struct {
	in         *Consumer[OrderRequest]
	bell       Doorbell
	execs      *Producer[ExecUpdate]
	execBell   Doorbell
	dispatcher OrderDispatcher
	sink       *LogSink
	interval   time.Duration

	nextClientOrderID uint64

	orders  atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewTradeIO creates the terminal stage. A nil dispatcher logs every order through sink.
func NewTradeIO(in *Consumer[OrderRequest], execs *Producer[ExecUpdate], dispatcher OrderDispatcher,
	sink *LogSink, interval time.Duration) *TradeIO {
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(sink)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &TradeIO{
		in:         in,
		bell:       NopDoorbell(),
		execs:      execs,
		execBell:   NopDoorbell(),
		dispatcher: dispatcher,
		sink:       sink,
		interval:   interval,
	}
}

func (t *TradeIO) Name() string {
	return "trade_io"
}

func (t *TradeIO) Run(ctx context.Context) error {
	return pollLoop(ctx, t.sink, t.interval, t.step)
}

func (t *TradeIO) step() (bool, error) {
	_, _ = t.bell.Drain()
	n := t.in.Drain(t.onOrder)
	return n > 0, nil
}

func (t *TradeIO) onOrder(req OrderRequest) {
	t.nextClientOrderID++
	cmd := OrderCommand{ClientOrderID: t.nextClientOrderID, OrderRequest: req}

	update := ExecUpdate{
		ClientOrderID: cmd.ClientOrderID,
		RequestID:     req.RequestID,
		Shard:         req.Shard,
		Symbol:        req.Symbol,
		MDEventID:     req.MDEventID,
		Side:          req.Side,
		ExecType:      ExecAck,
	}

	if err := t.dispatcher.Dispatch(cmd); err != nil {
		t.failed.Add(1)
		t.sink.Error("dispatch failed",
			slog.Uint64("cl_ord_id", cmd.ClientOrderID),
			slog.String("error", err.Error()),
		)
		update.ExecType = ExecReject
		update.Reason = RejectReasonDispatch
	} else {
		t.orders.Add(1)
		ordersSentTotal.WithLabelValues("dispatcher").Inc()
	}

	update.RecvTime = time.Now().UnixNano()
	execUpdatesTotal.WithLabelValues(update.ExecType.String()).Inc()
	if !t.execs.Push(update) {
		t.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("trade_io").Inc()
		t.sink.Warn("exec queue full, exec update dropped", slog.Uint64("cl_ord_id", cmd.ClientOrderID))
		return
	}
	_ = t.execBell.Ring()
}

// Stats returns the current counters.
func (t *TradeIO) Stats() TradeIOStats {
	return TradeIOStats{
		Orders:  t.orders.Load(),
		Failed:  t.failed.Load(),
		Dropped: t.dropped.Load(),
	}
}
