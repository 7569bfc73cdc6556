package depth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/0x5487/hft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher returns its snapshots in order, repeating the last one.
type fakeFetcher struct {
	snaps []hft.BookSnapshot
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, symbol string) (hft.BookSnapshot, error) {
	n := int(f.calls.Add(1))
	if f.err != nil {
		return hft.BookSnapshot{}, f.err
	}
	i := min(n-1, len(f.snaps)-1)
	snap := f.snaps[i]
	snap.Symbol = symbol
	return snap, nil
}

func mustPrice(t *testing.T, s string) hft.Price {
	t.Helper()
	p, err := hft.ParsePrice(s)
	require.NoError(t, err)
	return p
}

func mustQty(t *testing.T, s string) hft.Qty {
	t.Helper()
	q, err := hft.ParseQty(s)
	require.NoError(t, err)
	return q
}

func snapshotAt(t *testing.T, id uint64, bid, ask string) hft.BookSnapshot {
	t.Helper()
	return hft.BookSnapshot{
		LastUpdateID: id,
		Bids:         []hft.Level{{Price: mustPrice(t, bid), Qty: mustQty(t, "1")}},
		Asks:         []hft.Level{{Price: mustPrice(t, ask), Qty: mustQty(t, "1")}},
	}
}

func diff(t *testing.T, first, final uint64, side hft.Side, price, qty string) hft.BookDelta {
	t.Helper()
	return hft.BookDelta{
		Symbol:        "BTCUSDT",
		FirstUpdateID: first,
		FinalUpdateID: final,
		Levels:        []hft.LevelDelta{{Side: side, Price: mustPrice(t, price), Qty: mustQty(t, qty)}},
	}
}

func TestSynchronizer_InitialSyncReplaysBuffer(t *testing.T) {
	fetcher := &fakeFetcher{snaps: []hft.BookSnapshot{snapshotAt(t, 100, "99", "101")}}
	s := NewSynchronizer("BTCUSDT", fetcher)
	assert.False(t, s.Synced())

	out, err := s.Handle(context.Background(), diff(t, 95, 102, hft.Buy, "99.5", "2"))
	require.NoError(t, err)
	require.True(t, s.Synced())
	require.Len(t, out, 2)

	assert.True(t, out[0].Snapshot)
	assert.Equal(t, uint64(100), out[0].FinalUpdateID)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
	assert.Equal(t, uint64(102), out[1].FinalUpdateID)

	bid, qty, ok := s.Book().BestBid()
	require.True(t, ok)
	assert.Equal(t, mustPrice(t, "99.5"), bid)
	assert.Equal(t, mustQty(t, "2"), qty)
	assert.Equal(t, uint64(102), s.Book().LastUpdateID())
	assert.Equal(t, uint64(1), s.Resyncs())
	assert.Equal(t, 0, s.Pending())
}

func TestSynchronizer_StaleBufferedDeltasAreSkipped(t *testing.T) {
	fetcher := &fakeFetcher{snaps: []hft.BookSnapshot{snapshotAt(t, 200, "99", "101")}}
	s := NewSynchronizer("BTCUSDT", fetcher)

	out, err := s.Handle(context.Background(), diff(t, 150, 160, hft.Buy, "50", "1"))
	require.NoError(t, err)
	require.Len(t, out, 1, "only the snapshot")
	assert.True(t, out[0].Snapshot)

	out, err = s.Handle(context.Background(), diff(t, 170, 190, hft.Buy, "50", "1"))
	require.NoError(t, err)
	assert.Empty(t, out, "stale deltas after sync are ignored")
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestSynchronizer_GapTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{snaps: []hft.BookSnapshot{
		snapshotAt(t, 100, "99", "101"),
		snapshotAt(t, 120, "98", "102"),
	}}
	s := NewSynchronizer("BTCUSDT", fetcher)

	_, err := s.Handle(context.Background(), diff(t, 101, 105, hft.Buy, "99.5", "1"))
	require.NoError(t, err)

	out, err := s.Handle(context.Background(), diff(t, 106, 110, hft.Sell, "100.5", "1"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{110}, finalIDs(out), "contiguous delta passes through")

	// 111..114 lost
	out, err = s.Handle(context.Background(), diff(t, 115, 121, hft.Buy, "98.5", "3"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, out[0].Snapshot)
	assert.Equal(t, uint64(120), out[0].FinalUpdateID)
	assert.Equal(t, uint64(121), out[1].FinalUpdateID)

	assert.Equal(t, uint64(2), s.Resyncs())
	bid, _, _ := s.Book().BestBid()
	assert.Equal(t, mustPrice(t, "98.5"), bid)
	_, ok := s.Book().Quantity(hft.Sell, mustPrice(t, "100.5"))
	assert.False(t, ok, "levels from before the gap are gone")
}

func TestSynchronizer_SnapshotBehindStream(t *testing.T) {
	fetcher := &fakeFetcher{snaps: []hft.BookSnapshot{
		snapshotAt(t, 100, "99", "101"),
		snapshotAt(t, 130, "99", "101"),
	}}
	s := NewSynchronizer("BTCUSDT", fetcher)

	_, err := s.Handle(context.Background(), diff(t, 120, 125, hft.Buy, "99.5", "1"))
	require.ErrorIs(t, err, hft.ErrSequenceGap)
	assert.False(t, s.Synced())
	assert.Equal(t, 1, s.Pending(), "unreached deltas stay buffered")

	out, err := s.Handle(context.Background(), diff(t, 126, 131, hft.Buy, "99.7", "1"))
	require.NoError(t, err)
	assert.True(t, s.Synced())
	assert.Equal(t, []uint64{130, 131}, finalIDs(out))
	assert.Equal(t, 0, s.Pending())
}

func TestSynchronizer_FetchFailureKeepsBuffer(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("boom")}
	s := NewSynchronizer("BTCUSDT", fetcher)

	_, err := s.Handle(context.Background(), diff(t, 101, 102, hft.Buy, "99", "1"))
	require.Error(t, err)
	_, err = s.Handle(context.Background(), diff(t, 103, 104, hft.Buy, "99", "2"))
	require.Error(t, err)
	assert.Equal(t, 2, s.Pending())

	fetcher.err = nil
	fetcher.snaps = []hft.BookSnapshot{snapshotAt(t, 100, "99", "101")}
	out, err := s.Handle(context.Background(), diff(t, 105, 106, hft.Buy, "99", "3"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 102, 104, 106}, finalIDs(out))

	qty, ok := s.Book().Quantity(hft.Buy, mustPrice(t, "99"))
	require.True(t, ok)
	assert.Equal(t, mustQty(t, "3"), qty)
}

func TestSynchronizer_InvalidateAndBoundedBuffer(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("down")}
	s := NewSynchronizer("BTCUSDT", fetcher)
	s.maxPending = 3

	for i := uint64(1); i <= 5; i++ {
		_, _ = s.Handle(context.Background(), diff(t, i, i, hft.Buy, "99", "1"))
	}
	assert.Equal(t, 3, s.Pending(), "oldest deltas are evicted")

	fetcher.err = nil
	fetcher.snaps = []hft.BookSnapshot{snapshotAt(t, 3, "99", "101")}
	out, err := s.Handle(context.Background(), diff(t, 6, 6, hft.Buy, "99", "1"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5, 6}, finalIDs(out))

	s.Invalidate()
	assert.False(t, s.Synced())
	fetcher.snaps = []hft.BookSnapshot{snapshotAt(t, 10, "99", "101")}
	out, err = s.Handle(context.Background(), diff(t, 11, 11, hft.Buy, "99", "1"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11}, finalIDs(out))
}

func finalIDs(deltas []hft.BookDelta) []uint64 {
	ids := make([]uint64, 0, len(deltas))
	for _, d := range deltas {
		ids = append(ids, d.FinalUpdateID)
	}
	return ids
}
