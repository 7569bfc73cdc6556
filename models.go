package hft

import (
	"log/slog"

	"github.com/0x5487/hft/protocol"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

type OrderType = protocol.OrderType

const (
	Limit OrderType = protocol.OrderTypeLimit
)

type TimeInForce = protocol.TimeInForce

const (
	GTC TimeInForce = protocol.TimeInForceGTC
)

type ExecType = protocol.ExecType

const (
	ExecAck         ExecType = protocol.ExecAck
	ExecFill        ExecType = protocol.ExecFill
	ExecPartialFill ExecType = protocol.ExecPartialFill
	ExecReject      ExecType = protocol.ExecReject
	ExecCancel      ExecType = protocol.ExecCancel
)

type RejectReason = protocol.RejectReason

const (
	RejectReasonNone       RejectReason = protocol.RejectReasonNone
	RejectReasonRiskLimit  RejectReason = protocol.RejectReasonRiskLimit
	RejectReasonInvalid    RejectReason = protocol.RejectReasonInvalid
	RejectReasonQueueFull  RejectReason = protocol.RejectReasonQueueFull
	RejectReasonDispatch   RejectReason = protocol.RejectReasonDispatch
	RejectReasonDisconnect RejectReason = protocol.RejectReasonDisconnect
)

// MarketEvent is a top-of-book observation routed from the feed handler to a strategy shard.
type MarketEvent struct {
	Symbol    string
	MDEventID uint64
	Sequence  uint64 // per symbol, strictly increasing
	Bid       Price
	Ask       Price
	BidQty    Qty
	AskQty    Qty
	Size      Qty // min(BidQty, AskQty)
	Timestamp int64
}

// Level is one aggregated price level.
type Level struct {
	Price Price `json:"price"`
	Qty   Qty   `json:"qty"`
}

// LevelDelta sets the quantity at one price. Qty zero removes the level.
type LevelDelta struct {
	Side  Side
	Price Price
	Qty   Qty
}

// BookDelta is a batch of level changes tagged with the exchange update id range [FirstUpdateID, FinalUpdateID].
// PrevUpdateID is the final update id of the previous batch when the venue provides it.
// A delta with Snapshot set replaces the whole book.
type BookDelta struct {
	MDEventID     uint64
	Symbol        string
	Levels        []LevelDelta
	FirstUpdateID uint64
	FinalUpdateID uint64
	PrevUpdateID  uint64
	Snapshot      bool
	Timestamp     int64
}

// StrategyDecision is what a strategy shard wants to trade.
type StrategyDecision struct {
	RequestID uint64 // unique per shard
	Shard     int
	Symbol    string
	Side      Side
	Price     Price
	Qty       Qty
	MDEventID uint64
	Sequence  uint64
	Signal    float64 // z-score that triggered the decision
	Close     bool    // flattens the current position
	Timestamp int64
}

// OrderRequest is a decision that passed the risk check.
type OrderRequest struct {
	RequestID   uint64
	Shard       int
	Symbol      string
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Price       Price
	Qty         Qty
	MDEventID   uint64
	Close       bool
	Timestamp   int64
}

// OrderCommand is an order request with its client order id, ready to leave the process.
type OrderCommand struct {
	ClientOrderID uint64
	OrderRequest
}

// NewOrder converts the command to its wire form.
func (c OrderCommand) NewOrder(sendTime int64) protocol.NewOrder {
	return protocol.NewOrder{
		ClientOrderID: c.ClientOrderID,
		MDEventID:     c.MDEventID,
		Side:          c.Side,
		OrderType:     c.Type,
		TimeInForce:   c.TimeInForce,
		Price:         int64(c.Price),
		Qty:           int64(c.Qty),
		SendTime:      sendTime,
	}
}

// ExecUpdate is an execution report routed back to the shard that owns the order.
type ExecUpdate struct {
	ClientOrderID uint64
	RequestID     uint64
	Shard         int
	Symbol        string
	MDEventID     uint64
	Side          Side
	ExecType      ExecType
	FillPrice     Price
	FillQty       Qty
	CumQty        Qty
	Reason        RejectReason
	ExchRecvTime  int64
	ExchSendTime  int64
	RecvTime      int64
}

// OrderState is the OMS bookkeeping of one client order id.
type OrderState struct {
	ClientOrderID uint64
	RequestID     uint64
	Shard         int
	Symbol        string
	MDEventID     uint64
	Side          Side
	Price         Price
	Qty           Qty
	Status        ExecType
	CumQty        Qty
	SendTime      int64
	UpdatedAt     int64
}

// LogEvent is a diagnostic record carried from a stage to the log aggregator.
type LogEvent struct {
	Source  string
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
	Time    int64
}
