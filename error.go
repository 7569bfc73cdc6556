package hft

import "errors"

var (
	ErrInvalidParam   = errors.New("the param is invalid")
	ErrSequenceGap    = errors.New("book delta is not contiguous with the last update id")
	ErrStaleDelta     = errors.New("book delta is older than the last update id")
	ErrDisconnected   = errors.New("exchange session disconnected")
	ErrNotSupported   = errors.New("not supported on this platform")
	ErrUnknownSource  = errors.New("unknown market data source")
	ErrAlreadyStarted = errors.New("already started")
)
