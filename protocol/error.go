package protocol

import "errors"

var (
	ErrShortPayload  = errors.New("protocol: payload shorter than message layout")
	ErrBadMagic      = errors.New("protocol: bad magic")
	ErrUnknownType   = errors.New("protocol: unknown message type")
	ErrFrameTooLarge = errors.New("protocol: frame exceeds max frame size")
)
