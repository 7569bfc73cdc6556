package protocol

import "encoding/binary"

// NewOrderSize is the encoded size of a NewOrder payload.
const NewOrderSize = 48

// NewOrder is the order entry message sent by the OMS to the exchange.
//
// Layout (big-endian, no implicit padding):
//
//	0  header          4
//	4  cl_ord_id       8
//	12 md_event_id     8
//	20 side            1
//	21 ord_type        1
//	22 tif             1
//	23 reserved        1
//	24 price           8 (fixed-point, 1e-8)
//	32 qty             8 (fixed-point, 1e-8)
//	40 send_ts_ns      8
type NewOrder struct {
	ClientOrderID uint64
	MDEventID     uint64
	Side          Side
	OrderType     OrderType
	TimeInForce   TimeInForce
	Price         int64
	Qty           int64
	SendTime      int64
}

// MsgType implements Message.
func (m *NewOrder) MsgType() MsgType { return MsgNewOrder }

// AppendBinary appends the encoded message to dst.
func (m *NewOrder) AppendBinary(dst []byte) []byte {
	dst = newHeader(MsgNewOrder).append(dst)
	dst = binary.BigEndian.AppendUint64(dst, m.ClientOrderID)
	dst = binary.BigEndian.AppendUint64(dst, m.MDEventID)
	dst = append(dst, byte(m.Side), byte(m.OrderType), byte(m.TimeInForce), 0)
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.Price))
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.Qty))
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.SendTime))
	return dst
}

// UnmarshalBinary decodes a payload produced by AppendBinary.
func (m *NewOrder) UnmarshalBinary(payload []byte) error {
	if err := checkHeader(payload, MsgNewOrder, NewOrderSize); err != nil {
		return err
	}
	m.ClientOrderID = binary.BigEndian.Uint64(payload[4:12])
	m.MDEventID = binary.BigEndian.Uint64(payload[12:20])
	m.Side = Side(payload[20])
	m.OrderType = OrderType(payload[21])
	m.TimeInForce = TimeInForce(payload[22])
	m.Price = int64(binary.BigEndian.Uint64(payload[24:32]))
	m.Qty = int64(binary.BigEndian.Uint64(payload[32:40]))
	m.SendTime = int64(binary.BigEndian.Uint64(payload[40:48]))
	return nil
}

func checkHeader(payload []byte, want MsgType, size int) error {
	hdr, err := PeekHeader(payload)
	if err != nil {
		return err
	}
	if hdr.Magic != Magic {
		return ErrBadMagic
	}
	if hdr.Type != want {
		return ErrUnknownType
	}
	if len(payload) < size {
		return ErrShortPayload
	}
	return nil
}
