package protocol

import "encoding/binary"

// ExecReportSize is the encoded size of an ExecReport payload.
const ExecReportSize = 64

// ExecReport is the exchange's response to a NewOrder.
//
// Layout (big-endian, no implicit padding):
//
//	0  header          4
//	4  cl_ord_id       8
//	12 md_event_id     8
//	20 exec_type       1
//	21 reserved        3
//	24 fill_price      8
//	32 fill_qty        8
//	40 exch_recv_ts    8
//	48 exch_send_ts    8
//	56 reason          4
//	60 reserved        4
type ExecReport struct {
	ClientOrderID uint64
	MDEventID     uint64
	ExecType      ExecType
	FillPrice     int64
	FillQty       int64
	RecvTime      int64
	SendTime      int64
	Reason        RejectReason
}

// MsgType implements Message.
func (m *ExecReport) MsgType() MsgType { return MsgExecReport }

// AppendBinary appends the encoded message to dst.
func (m *ExecReport) AppendBinary(dst []byte) []byte {
	dst = newHeader(MsgExecReport).append(dst)
	dst = binary.BigEndian.AppendUint64(dst, m.ClientOrderID)
	dst = binary.BigEndian.AppendUint64(dst, m.MDEventID)
	dst = append(dst, byte(m.ExecType), 0, 0, 0)
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.FillPrice))
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.FillQty))
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.RecvTime))
	dst = binary.BigEndian.AppendUint64(dst, uint64(m.SendTime))
	dst = binary.BigEndian.AppendUint32(dst, uint32(m.Reason))
	dst = binary.BigEndian.AppendUint32(dst, 0)
	return dst
}

// UnmarshalBinary decodes a payload produced by AppendBinary.
func (m *ExecReport) UnmarshalBinary(payload []byte) error {
	if err := checkHeader(payload, MsgExecReport, ExecReportSize); err != nil {
		return err
	}
	m.ClientOrderID = binary.BigEndian.Uint64(payload[4:12])
	m.MDEventID = binary.BigEndian.Uint64(payload[12:20])
	m.ExecType = ExecType(payload[20])
	m.FillPrice = int64(binary.BigEndian.Uint64(payload[24:32]))
	m.FillQty = int64(binary.BigEndian.Uint64(payload[32:40]))
	m.RecvTime = int64(binary.BigEndian.Uint64(payload[40:48]))
	m.SendTime = int64(binary.BigEndian.Uint64(payload[48:56]))
	m.Reason = RejectReason(int32(binary.BigEndian.Uint32(payload[56:60])))
	return nil
}
