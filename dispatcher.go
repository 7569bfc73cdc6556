package hft

import (
	"log/slog"
	"sync"
)

// OrderDispatcher hands an order command to the outside world.
//
// Dispatch is called from the Trade I/O goroutine only and must not retain cmd
// beyond the call unless it copies it.
type OrderDispatcher interface {
	Dispatch(cmd OrderCommand) error
}

// LogDispatcher writes every command to a log sink. It is the default for the
// simplified pipeline, where no order leaves the process.
type LogDispatcher struct {
	sink *LogSink
}

// NewLogDispatcher creates a LogDispatcher writing to sink.
func NewLogDispatcher(sink *LogSink) *LogDispatcher {
	return &LogDispatcher{sink: sink}
}

func (d *LogDispatcher) Dispatch(cmd OrderCommand) error {
	d.sink.Info("order",
		slog.Uint64("cl_ord_id", cmd.ClientOrderID),
		slog.Int("shard", cmd.Shard),
		slog.String("symbol", cmd.Symbol),
		slog.String("side", cmd.Side.String()),
		slog.String("price", cmd.Price.String()),
		slog.String("qty", cmd.Qty.String()),
		slog.Uint64("md_event_id", cmd.MDEventID),
		slog.Bool("close", cmd.Close),
	)
	return nil
}

// MemoryDispatcher stores commands in memory, useful for testing.
type MemoryDispatcher struct {
	mu       sync.RWMutex
	Commands []OrderCommand
}

// NewMemoryDispatcher creates a new MemoryDispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		Commands: make([]OrderCommand, 0),
	}
}

// Dispatch appends cmd to the in-memory slice.
func (m *MemoryDispatcher) Dispatch(cmd OrderCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, cmd)
	return nil
}

// Count returns the number of commands stored.
func (m *MemoryDispatcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Commands)
}

// Get returns the command at the specified index.
func (m *MemoryDispatcher) Get(index int) OrderCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Commands[index]
}

// All returns a copy of all commands stored.
func (m *MemoryDispatcher) All() []OrderCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cmds := make([]OrderCommand, len(m.Commands))
	copy(cmds, m.Commands)
	return cmds
}

// DiscardDispatcher discards all commands, useful for benchmarking.
type DiscardDispatcher struct {
}

// NewDiscardDispatcher creates a new DiscardDispatcher.
func NewDiscardDispatcher() *DiscardDispatcher {
	return &DiscardDispatcher{}
}

// Dispatch does nothing.
func (p *DiscardDispatcher) Dispatch(cmd OrderCommand) error {
	return nil
}
