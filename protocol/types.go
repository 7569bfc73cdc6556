package protocol

import "encoding/binary"

// Magic identifies frames produced by this protocol family.
const Magic uint16 = 0xA11C

// MsgType defines the type of a wire message (using uint8 to keep the header at 4 bytes)
type MsgType uint8

const (
	MsgUnknown    MsgType = 0
	MsgNewOrder   MsgType = 1
	MsgExecReport MsgType = 2
)

func (t MsgType) String() string {
	switch t {
	case MsgNewOrder:
		return "new_order"
	case MsgExecReport:
		return "exec_report"
	default:
		return "unknown"
	}
}

// HeaderSize is the size of the common header in front of every payload.
const HeaderSize = 4

// Header is the common prefix of every payload.
// Layout: [magic u16][msg_type u8][reserved u8]
type Header struct {
	Magic    uint16
	Type     MsgType
	Reserved uint8
}

func newHeader(t MsgType) Header {
	return Header{Magic: Magic, Type: t}
}

func (h Header) append(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.Magic)
	return append(dst, byte(h.Type), h.Reserved)
}

// PeekHeader reads the header of a payload without validating it.
func PeekHeader(payload []byte) (Header, error) {
	if len(payload) < HeaderSize {
		return Header{}, ErrShortPayload
	}
	return Header{
		Magic:    binary.BigEndian.Uint16(payload[0:2]),
		Type:     MsgType(payload[2]),
		Reserved: payload[3],
	}, nil
}

// Side represents the order side (Buy/Sell).
type Side uint8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the type of order. Only limit orders exist on the wire today.
type OrderType uint8

const (
	OrderTypeLimit OrderType = 0
)

// TimeInForce represents how long an order stays working.
type TimeInForce uint8

const (
	TimeInForceGTC TimeInForce = 0
)

// ExecType is the kind of execution report sent back by the exchange.
type ExecType uint8

const (
	ExecAck         ExecType = 0
	ExecFill        ExecType = 1
	ExecPartialFill ExecType = 2
	ExecReject      ExecType = 3
	ExecCancel      ExecType = 4
)

func (e ExecType) String() string {
	switch e {
	case ExecAck:
		return "ack"
	case ExecFill:
		return "fill"
	case ExecPartialFill:
		return "partial_fill"
	case ExecReject:
		return "reject"
	case ExecCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further reports are expected for the order.
func (e ExecType) Terminal() bool {
	return e == ExecFill || e == ExecReject || e == ExecCancel
}

// RejectReason is carried in the reason field of an exec report.
type RejectReason int32

const (
	RejectReasonNone       RejectReason = 0
	RejectReasonRiskLimit  RejectReason = 1 // Quantity above the configured limit
	RejectReasonInvalid    RejectReason = 2 // Non-positive price or quantity
	RejectReasonQueueFull  RejectReason = 3 // Downstream ring buffer was full
	RejectReasonDispatch   RejectReason = 4 // Dispatcher failed to send the order
	RejectReasonDisconnect RejectReason = 5 // Exchange session is gone
)
