// Package depth keeps exchange-facing order books in sync with a venue's diff
// stream, resynchronizing from a REST snapshot whenever the update ids break.
package depth

import (
	"context"
	"errors"
	"fmt"

	"github.com/0x5487/hft"
	"github.com/igrmk/treemap/v2"
)

// DefaultMaxPending bounds the deltas buffered while waiting for a snapshot.
const DefaultMaxPending = 4096

// SnapshotFetcher returns the full book of symbol.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (hft.BookSnapshot, error)
}

// Synchronizer owns the local book of one symbol. Deltas that arrive before the
// first snapshot, or after a sequence gap, are buffered by final update id and
// replayed on top of a freshly fetched snapshot.
// It is not safe for concurrent use.
type Synchronizer struct {
	symbol     string
	book       *hft.OrderBook
	fetcher    SnapshotFetcher
	pending    *treemap.TreeMap[uint64, hft.BookDelta]
	maxPending int
	synced     bool
	resyncs    uint64
}

// NewSynchronizer creates an unsynced book for symbol.
func NewSynchronizer(symbol string, fetcher SnapshotFetcher) *Synchronizer {
	return &Synchronizer{
		symbol:     symbol,
		book:       hft.NewOrderBook(symbol),
		fetcher:    fetcher,
		pending:    treemap.New[uint64, hft.BookDelta](),
		maxPending: DefaultMaxPending,
	}
}

func (s *Synchronizer) Symbol() string {
	return s.symbol
}

// Book returns the local book. Callers must not modify it.
func (s *Synchronizer) Book() *hft.OrderBook {
	return s.book
}

// Synced reports whether the book is contiguous with the stream.
func (s *Synchronizer) Synced() bool {
	return s.synced
}

// Resyncs returns how many snapshots have been applied.
func (s *Synchronizer) Resyncs() uint64 {
	return s.resyncs
}

// Pending returns the number of buffered deltas.
func (s *Synchronizer) Pending() int {
	return s.pending.Len()
}

// Invalidate forces a resync on the next Handle.
func (s *Synchronizer) Invalidate() {
	s.synced = false
}

// Handle applies delta to the local book and returns what downstream consumers
// must apply to stay identical to it: nothing for a stale delta, the delta itself
// when it is contiguous, or a replacing snapshot delta followed by the replayed
// deltas after a resync.
//
// A failed snapshot fetch keeps the delta buffered and returns the error; the next
// Handle retries.
func (s *Synchronizer) Handle(ctx context.Context, delta hft.BookDelta) ([]hft.BookDelta, error) {
	if delta.Symbol == "" {
		delta.Symbol = s.symbol
	}

	if s.synced {
		err := s.book.ApplyChecked(delta)
		switch {
		case err == nil:
			return []hft.BookDelta{delta}, nil
		case errors.Is(err, hft.ErrStaleDelta):
			return nil, nil
		case errors.Is(err, hft.ErrSequenceGap):
			s.synced = false
		default:
			return nil, err
		}
	}

	s.buffer(delta)
	return s.resync(ctx)
}

func (s *Synchronizer) buffer(delta hft.BookDelta) {
	s.pending.Set(delta.FinalUpdateID, delta)
	for s.pending.Len() > s.maxPending {
		it := s.pending.Iterator()
		s.pending.Del(it.Key())
	}
}

func (s *Synchronizer) resync(ctx context.Context) ([]hft.BookDelta, error) {
	snap, err := s.fetcher.FetchSnapshot(ctx, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("depth: fetch %s snapshot: %w", s.symbol, err)
	}
	snap.Symbol = s.symbol

	s.book.Reset(snap)
	s.resyncs++
	hft.DepthResyncsTotal.WithLabelValues(s.symbol).Inc()

	out := []hft.BookDelta{snap.Delta()}

	var done []uint64
	var gapErr error
	for it := s.pending.Iterator(); it.Valid(); it.Next() {
		d := it.Value()
		err := s.book.ApplyChecked(d)
		if errors.Is(err, hft.ErrSequenceGap) {
			gapErr = err
			break
		}
		done = append(done, it.Key())
		if err == nil {
			out = append(out, d)
		}
	}
	for _, id := range done {
		s.pending.Del(id)
	}

	if gapErr != nil {
		// the snapshot is older than the buffered stream; try again with a newer one
		return nil, fmt.Errorf("depth: %s snapshot %d does not reach buffered deltas: %w",
			s.symbol, snap.LastUpdateID, gapErr)
	}

	s.synced = true
	return out, nil
}
