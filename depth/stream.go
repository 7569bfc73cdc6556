package depth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0x5487/hft"
	"github.com/gorilla/websocket"
)

const (
	DefaultWSURL       = "wss://stream.binance.com:9443"
	DefaultBuffer      = 4096
	DefaultReadTimeout = 60 * time.Second
)

// StreamConfig configures a Stream.
type StreamConfig struct {
	WSURL       string
	Symbols     []string
	Buffer      int
	ReadTimeout time.Duration
	Fetcher     SnapshotFetcher
}

// StreamStats is a point-in-time copy of the stream counters.
type StreamStats struct {
	Connects    uint64
	Messages    uint64
	Deltas      uint64
	Dropped     uint64
	ParseErrors uint64
	SyncErrors  uint64
}

// Stream subscribes to the diff depth streams of a set of symbols over one combined
// websocket connection, keeps every book in sync through a Synchronizer and hands
// the resulting deltas to the pipeline as an hft.MarketSource.
//
// Run owns the connection and the synchronizers; Next may be called from another
// goroutine. When the buffer towards Next is full the delta is dropped and the
// symbol is resynced, so consumers never apply a broken sequence.
type Stream struct {
	cfg     StreamConfig
	syncs   map[string]*Synchronizer
	out     chan hft.BookDelta
	backoff func(retry int) time.Duration
	started atomic.Bool

	connects    atomic.Uint64
	messages    atomic.Uint64
	deltas      atomic.Uint64
	dropped     atomic.Uint64
	parseErrors atomic.Uint64
	syncErrors  atomic.Uint64
}

// NewStream validates cfg and creates the stream. Nothing connects until Run.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: depth stream needs at least one symbol", hft.ErrInvalidParam)
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("%w: depth stream needs a snapshot fetcher", hft.ErrInvalidParam)
	}
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	cfg.WSURL = strings.TrimRight(cfg.WSURL, "/")

	syncs := make(map[string]*Synchronizer, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		symbol = strings.ToUpper(symbol)
		syncs[symbol] = NewSynchronizer(symbol, cfg.Fetcher)
	}

	return &Stream{
		cfg:     cfg,
		syncs:   syncs,
		out:     make(chan hft.BookDelta, cfg.Buffer),
		backoff: CalculateBackoff,
	}, nil
}

// URL returns the combined stream endpoint.
func (s *Stream) URL() string {
	names := make([]string, 0, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		names = append(names, streamName(symbol))
	}
	return s.cfg.WSURL + "/stream?streams=" + strings.Join(names, "/")
}

// Next implements hft.MarketSource. It never blocks and reports io.EOF once Run has returned.
func (s *Stream) Next(ctx context.Context) (hft.BookDelta, bool, error) {
	select {
	case d, ok := <-s.out:
		if !ok {
			return hft.BookDelta{}, false, io.EOF
		}
		return d, true, nil
	default:
		return hft.BookDelta{}, false, nil
	}
}

// Run connects and reads until ctx is done, reconnecting with exponential backoff.
// Every new connection resyncs all books.
func (s *Stream) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return hft.ErrAlreadyStarted
	}
	defer close(s.out)

	retry := 0
	for ctx.Err() == nil {
		conn, err := s.dial(ctx)
		if err != nil {
			delay := s.backoff(retry)
			logger.Warn("depth stream connect failed",
				slog.String("url", s.URL()),
				slog.String("error", err.Error()),
				slog.Int("retry", retry),
				slog.Duration("backoff", delay),
			)
			retry++

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		s.connects.Add(1)
		for _, syncer := range s.syncs {
			syncer.Invalidate()
		}
		logger.Info("depth stream connected", slog.String("url", s.URL()))

		s.read(ctx, conn)
	}
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", "hft/"+hft.Version)

	conn, _, err := dialer.DialContext(ctx, s.URL(), header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("depth stream read failed", slog.String("error", err.Error()))
			}
			return
		}
		s.onMessage(ctx, msg)
	}
}

func (s *Stream) onMessage(ctx context.Context, msg []byte) {
	s.messages.Add(1)

	var m combinedMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		s.parseErrors.Add(1)
		logger.Debug("depth message skipped", slog.String("error", err.Error()))
		return
	}
	if m.Data.EventType != "depthUpdate" {
		return
	}

	delta := m.Data.delta()
	syncer, ok := s.syncs[delta.Symbol]
	if !ok {
		return
	}

	out, err := syncer.Handle(ctx, delta)
	if err != nil {
		s.syncErrors.Add(1)
		logger.Warn("depth resync failed", slog.String("symbol", delta.Symbol), slog.String("error", err.Error()))
		return
	}

	for _, d := range out {
		select {
		case s.out <- d:
			s.deltas.Add(1)
		default:
			s.dropped.Add(1)
			syncer.Invalidate()
			logger.Warn("depth buffer full, delta dropped",
				slog.String("symbol", d.Symbol),
				slog.Uint64("final_update_id", d.FinalUpdateID),
			)
			return
		}
	}
}

// Stats returns the current counters.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Connects:    s.connects.Load(),
		Messages:    s.messages.Load(),
		Deltas:      s.deltas.Load(),
		Dropped:     s.dropped.Load(),
		ParseErrors: s.parseErrors.Load(),
		SyncErrors:  s.syncErrors.Load(),
	}
}
