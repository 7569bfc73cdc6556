package hft

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

var logLevel = new(slog.LevelVar)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// SetLogLevel changes the level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// Logger returns the package logger.
func Logger() *slog.Logger {
	return logger
}

// LogSink is a stage's handle for diagnostics. Records go into the stage's own ring and
// are written by the LogAggregator, so the hot path never touches the slog handler.
// Only the owning stage may log through a sink.
type LogSink struct {
	source  string
	ring    *Producer[LogEvent]
	dropped atomic.Uint64
}

func (s *LogSink) Source() string {
	return s.source
}

// Dropped returns the number of records lost to a full ring.
func (s *LogSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *LogSink) Debug(msg string, attrs ...slog.Attr) {
	s.log(slog.LevelDebug, msg, attrs)
}

func (s *LogSink) Info(msg string, attrs ...slog.Attr) {
	s.log(slog.LevelInfo, msg, attrs)
}

func (s *LogSink) Warn(msg string, attrs ...slog.Attr) {
	s.log(slog.LevelWarn, msg, attrs)
}

func (s *LogSink) Error(msg string, attrs ...slog.Attr) {
	s.log(slog.LevelError, msg, attrs)
}

func (s *LogSink) log(level slog.Level, msg string, attrs []slog.Attr) {
	if s == nil {
		return
	}
	if !logger.Enabled(context.Background(), level) {
		return
	}

	ok := s.ring.Push(LogEvent{
		Source:  s.source,
		Level:   level,
		Message: msg,
		Attrs:   attrs,
		Time:    time.Now().UnixNano(),
	})
	if !ok {
		s.dropped.Add(1)
		logDropsTotal.WithLabelValues(s.source).Inc()
	}
}

// LogAggregator is the single consumer of every stage's log ring.
type LogAggregator struct {
	interval  time.Duration
	capacity  int
	sinks     []*LogSink
	consumers []*Consumer[LogEvent]
	written   atomic.Uint64
	started   atomic.Bool
}

// NewLogAggregator creates an aggregator that drains its sources every interval.
func NewLogAggregator(capacity int, interval time.Duration) *LogAggregator {
	if capacity <= 0 {
		capacity = DefaultLogRingCapacity
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LogAggregator{interval: interval, capacity: capacity}
}

// NewSink registers a new source. All sinks must be created before Run.
func (a *LogAggregator) NewSink(source string) *LogSink {
	if a.started.Load() {
		panic("hft: LogAggregator.NewSink called after Run")
	}
	p, c := NewSPSC[LogEvent](a.capacity)
	sink := &LogSink{source: source, ring: p}
	a.sinks = append(a.sinks, sink)
	a.consumers = append(a.consumers, c)
	return sink
}

// Written returns the number of records handed to slog.
func (a *LogAggregator) Written() uint64 {
	return a.written.Load()
}

func (a *LogAggregator) Name() string {
	return "log_aggregator"
}

// Run drains every source until ctx is done, then performs a final drain.
func (a *LogAggregator) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	for ctx.Err() == nil {
		if a.drain() == 0 {
			time.Sleep(a.interval)
		}
	}

	a.drain()
	return nil
}

func (a *LogAggregator) drain() int {
	total := 0
	for _, c := range a.consumers {
		total += c.Drain(a.write)
	}
	return total
}

func (a *LogAggregator) write(ev LogEvent) {
	attrs := make([]slog.Attr, 0, len(ev.Attrs)+2)
	attrs = append(attrs, slog.String("source", ev.Source), slog.Int64("ts", ev.Time))
	attrs = append(attrs, ev.Attrs...)
	logger.LogAttrs(context.Background(), ev.Level, ev.Message, attrs...)
	a.written.Add(1)
}
