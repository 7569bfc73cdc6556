package hft

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureHandler records every slog record it receives.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler     { return h }

func (h *captureHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]string, 0, len(h.records))
	for _, r := range h.records {
		msgs = append(msgs, r.Message)
	}
	return msgs
}

func (h *captureHandler) attr(i int, key string) (slog.Value, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var found slog.Value
	ok := false
	h.records[i].Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found, ok = a.Value, true
			return false
		}
		return true
	})
	return found, ok
}

func useCaptureLogger(t *testing.T) *captureHandler {
	t.Helper()
	h := &captureHandler{}
	prev := logger
	SetLogger(slog.New(h))
	t.Cleanup(func() { SetLogger(prev) })
	return h
}

func TestLogAggregator_DrainsAllSources(t *testing.T) {
	h := useCaptureLogger(t)

	agg := NewLogAggregator(16, time.Millisecond)
	feed := agg.NewSink("feed")
	risk := agg.NewSink("oms_risk")

	feed.Info("first", slog.Int("n", 1))
	risk.Warn("second")
	feed.Error("third")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- agg.Run(ctx) }()

	assert.Eventually(t, func() bool { return agg.Written() == 3 }, time.Second, time.Millisecond)

	// records written after cancel are picked up by the final drain
	cancel()
	require.NoError(t, <-done)

	msgs := h.messages()
	require.Len(t, msgs, 3)
	// per-source FIFO
	assert.Less(t, indexOf(msgs, "first"), indexOf(msgs, "third"))

	src, ok := h.attr(indexOf(msgs, "second"), "source")
	require.True(t, ok)
	assert.Equal(t, "oms_risk", src.String())

	assert.ErrorIs(t, agg.Run(context.Background()), ErrAlreadyStarted)
	assert.Panics(t, func() { agg.NewSink("late") })
}

func TestLogAggregator_FinalDrain(t *testing.T) {
	h := useCaptureLogger(t)
	agg := NewLogAggregator(16, time.Hour)
	sink := agg.NewSink("trade_io")
	sink.Info("pending")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, agg.Run(ctx))

	assert.Equal(t, []string{"pending"}, h.messages())
}

func TestLogSink_DropsWhenFull(t *testing.T) {
	useCaptureLogger(t)
	agg := NewLogAggregator(4, time.Millisecond)
	sink := agg.NewSink("strategy_0")

	for i := 0; i < 10; i++ {
		sink.Info("flood")
	}
	assert.Equal(t, uint64(7), sink.Dropped())

	var nilSink *LogSink
	assert.NotPanics(t, func() { nilSink.Info("nothing") })
}

func indexOf(msgs []string, want string) int {
	for i, m := range msgs {
		if m == want {
			return i
		}
	}
	return -1
}
