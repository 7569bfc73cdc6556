package hft

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventFD is a Doorbell backed by a non-blocking semaphore eventfd, so it can be
// registered with epoll alongside sockets.
type EventFD struct {
	fd int
}

// NewEventFD creates the eventfd.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// FD returns the descriptor to register with epoll.
func (e *EventFD) FD() int {
	return e.fd
}

// Ring adds one to the counter. A saturated counter already guarantees a wakeup,
// so EAGAIN is not an error.
func (e *EventFD) Ring() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(e.fd, buf[:])
		switch {
		case err == nil, errors.Is(err, unix.EAGAIN):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

// Drain reads the counter down to zero and returns how many signals were pending.
func (e *EventFD) Drain() (uint64, error) {
	var buf [8]byte
	var n uint64
	for {
		_, err := unix.Read(e.fd, buf[:])
		switch {
		case err == nil:
			n += binary.NativeEndian.Uint64(buf[:])
		case errors.Is(err, unix.EAGAIN):
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return n, fmt.Errorf("eventfd read: %w", err)
		}
	}
}

// Close releases the descriptor.
func (e *EventFD) Close() error {
	return unix.Close(e.fd)
}
