package protocol

// Message is a fixed-layout wire message.
// Encoding is explicit field by field, so the in-memory struct layout never leaks onto the wire.
type Message interface {
	MsgType() MsgType
	AppendBinary(dst []byte) []byte
	UnmarshalBinary(payload []byte) error
}

// Decode dispatches a payload on its header and decodes it.
// Callers are expected to skip frames for which Decode returns an error;
// ErrUnknownType in particular is how newer message types are tolerated.
func Decode(payload []byte) (Message, error) {
	hdr, err := PeekHeader(payload)
	if err != nil {
		return nil, err
	}
	if hdr.Magic != Magic {
		return nil, ErrBadMagic
	}

	var msg Message
	switch hdr.Type {
	case MsgNewOrder:
		msg = &NewOrder{}
	case MsgExecReport:
		msg = &ExecReport{}
	default:
		return nil, ErrUnknownType
	}

	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode returns msg as one length-prefixed frame.
func Encode(msg Message) []byte {
	return AppendMessage(nil, msg)
}
