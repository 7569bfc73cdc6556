package hft

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfig holds the pre-trade limits.
type RiskConfig struct {
	MaxOrderQty decimal.Decimal `yaml:"max_order_qty"`
}

// RiskStats is a point-in-time copy of the OMS/Risk counters.
type RiskStats struct {
	Received    uint64
	Forwarded   uint64
	Rejected    uint64
	Dropped     uint64
	ExecRouted  uint64
	MaxOrderQty Qty // largest quantity ever forwarded
}

// OMSRisk fans in decisions from every strategy shard, applies the risk check and
// forwards approved orders to the terminal stage. It also routes exec updates from the
// terminal stage back to the shard that owns each order.
type OMSRisk struct {
	decisions []*Consumer[StrategyDecision]
	orders    *Producer[OrderRequest]
	orderBell Doorbell
	execIn    *Consumer[ExecUpdate]
	execBell  Doorbell
	execOut   []*Producer[ExecUpdate]
	sink      *LogSink
	interval  time.Duration
	maxQty    Qty

	received   atomic.Uint64
	forwarded  atomic.Uint64
	rejected   atomic.Uint64
	dropped    atomic.Uint64
	execRouted atomic.Uint64
	maxSeen    atomic.Int64
}

// OMSRiskConfig wires an OMSRisk stage.
type OMSRiskConfig struct {
	Decisions []*Consumer[StrategyDecision] // one per shard, index = shard id
	Orders    *Producer[OrderRequest]
	OrderBell Doorbell // rung after every forwarded order
	ExecIn    *Consumer[ExecUpdate]
	ExecBell  Doorbell // drained before ExecIn
	ExecOut   []*Producer[ExecUpdate] // one per shard, index = shard id
	Sink      *LogSink
	Interval  time.Duration
	Risk      RiskConfig
}

func NewOMSRisk(cfg OMSRiskConfig) *OMSRisk {
	if cfg.OrderBell == nil {
		cfg.OrderBell = NopDoorbell()
	}
	if cfg.ExecBell == nil {
		cfg.ExecBell = NopDoorbell()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}

	return &OMSRisk{
		decisions: cfg.Decisions,
		orders:    cfg.Orders,
		orderBell: cfg.OrderBell,
		execIn:    cfg.ExecIn,
		execBell:  cfg.ExecBell,
		execOut:   cfg.ExecOut,
		sink:      cfg.Sink,
		interval:  cfg.Interval,
		maxQty:    QtyFromDecimal(cfg.Risk.MaxOrderQty),
	}
}

func (r *OMSRisk) Name() string {
	return "oms_risk"
}

func (r *OMSRisk) Run(ctx context.Context) error {
	return pollLoop(ctx, r.sink, r.interval, r.step)
}

// step polls every decision queue once, in index order, then routes pending exec updates.
func (r *OMSRisk) step() (bool, error) {
	worked := false
	for _, c := range r.decisions {
		d, ok := c.Pop()
		if !ok {
			continue
		}
		worked = true
		r.onDecision(d)
	}

	if r.execIn != nil {
		_, _ = r.execBell.Drain()
		if r.execIn.Drain(r.routeExec) > 0 {
			worked = true
		}
	}
	return worked, nil
}

// check returns the reject reason for d, or RejectReasonNone.
func (r *OMSRisk) check(d StrategyDecision) RejectReason {
	if d.Qty <= 0 || d.Price <= 0 {
		return RejectReasonInvalid
	}
	if r.maxQty > 0 && d.Qty > r.maxQty {
		return RejectReasonRiskLimit
	}
	return RejectReasonNone
}

func (r *OMSRisk) onDecision(d StrategyDecision) {
	r.received.Add(1)

	if reason := r.check(d); reason != RejectReasonNone {
		r.rejected.Add(1)
		riskRejectsTotal.WithLabelValues(rejectLabel(reason)).Inc()
		r.sink.Info("risk reject",
			slog.Int("shard", d.Shard),
			slog.String("symbol", d.Symbol),
			slog.String("qty", d.Qty.String()),
			slog.Int("reason", int(reason)),
		)
		r.reject(d, reason)
		return
	}

	req := OrderRequest{
		RequestID:   d.RequestID,
		Shard:       d.Shard,
		Symbol:      d.Symbol,
		Side:        d.Side,
		Type:        Limit,
		TimeInForce: GTC,
		Price:       d.Price,
		Qty:         d.Qty,
		MDEventID:   d.MDEventID,
		Close:       d.Close,
		Timestamp:   time.Now().UnixNano(),
	}

	if !r.orders.Push(req) {
		r.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("risk").Inc()
		r.sink.Warn("order queue full, order dropped",
			slog.Int("shard", d.Shard),
			slog.Uint64("request_id", d.RequestID),
		)
		r.reject(d, RejectReasonQueueFull)
		return
	}

	if err := r.orderBell.Ring(); err != nil {
		r.sink.Warn("order doorbell failed", slog.String("error", err.Error()))
	}

	r.forwarded.Add(1)
	for {
		seen := r.maxSeen.Load()
		if int64(req.Qty) <= seen || r.maxSeen.CompareAndSwap(seen, int64(req.Qty)) {
			break
		}
	}
}

// reject tells the originating shard that its request will never reach the exchange.
func (r *OMSRisk) reject(d StrategyDecision, reason RejectReason) {
	r.routeExec(ExecUpdate{
		RequestID: d.RequestID,
		Shard:     d.Shard,
		Symbol:    d.Symbol,
		MDEventID: d.MDEventID,
		Side:      d.Side,
		ExecType:  ExecReject,
		Reason:    reason,
		RecvTime:  time.Now().UnixNano(),
	})
}

func (r *OMSRisk) routeExec(u ExecUpdate) {
	if u.Shard < 0 || u.Shard >= len(r.execOut) {
		r.sink.Warn("exec update for unknown shard",
			slog.Int("shard", u.Shard),
			slog.Uint64("cl_ord_id", u.ClientOrderID),
		)
		return
	}

	if !r.execOut[u.Shard].Push(u) {
		r.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("risk_exec").Inc()
		r.sink.Warn("shard exec queue full, exec update dropped",
			slog.Int("shard", u.Shard),
			slog.Uint64("request_id", u.RequestID),
		)
		return
	}
	r.execRouted.Add(1)
}

// Stats returns the current counters.
func (r *OMSRisk) Stats() RiskStats {
	return RiskStats{
		Received:    r.received.Load(),
		Forwarded:   r.forwarded.Load(),
		Rejected:    r.rejected.Load(),
		Dropped:     r.dropped.Load(),
		ExecRouted:  r.execRouted.Load(),
		MaxOrderQty: Qty(r.maxSeen.Load()),
	}
}

func rejectLabel(reason RejectReason) string {
	switch reason {
	case RejectReasonRiskLimit:
		return "risk_limit"
	case RejectReasonInvalid:
		return "invalid"
	case RejectReasonQueueFull:
		return "queue_full"
	case RejectReasonDispatch:
		return "dispatch"
	case RejectReasonDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}
