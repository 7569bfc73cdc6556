package hft

// Doorbell wakes the consumer of a ring after a push.
// Ring is called by the producer; Drain by the consumer before it empties the ring,
// so a signal that arrives while draining is never lost.
type Doorbell interface {
	Ring() error
	Drain() (uint64, error)
}

// nopDoorbell is used where the consumer polls on a timer anyway.
type nopDoorbell struct{}

func (nopDoorbell) Ring() error            { return nil }
func (nopDoorbell) Drain() (uint64, error) { return 0, nil }

// NopDoorbell returns a doorbell that does nothing.
func NopDoorbell() Doorbell {
	return nopDoorbell{}
}
