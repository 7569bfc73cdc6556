package hft

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/0x5487/hft/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type omsHarness struct {
	engine *OMSEngine
	orders *Producer[OrderRequest]
	bell   *EventFD
	execs  *Consumer[ExecUpdate]
}

func newOMSHarness(t *testing.T, addr string) *omsHarness {
	t.Helper()
	bell, err := NewEventFD()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bell.Close() })

	ordersP, ordersC := NewSPSC[OrderRequest](16)
	execsP, execsC := NewSPSC[ExecUpdate](16)

	return &omsHarness{
		engine: NewOMSEngine(OMSEngineConfig{
			Gateway:   GatewayConfig{Addr: addr, WaitTimeout: 5 * time.Millisecond, ConnectTimeout: time.Second},
			Orders:    ordersC,
			OrderBell: bell,
			Execs:     execsP,
		}),
		orders: ordersP,
		bell:   bell,
		execs:  execsC,
	}
}

func (h *omsHarness) submit(t *testing.T, req OrderRequest) {
	t.Helper()
	require.True(t, h.orders.Push(req))
	require.NoError(t, h.bell.Ring())
}

func (h *omsHarness) waitExecs(t *testing.T, n int) []ExecUpdate {
	t.Helper()
	var got []ExecUpdate
	require.Eventually(t, func() bool {
		for {
			u, ok := h.execs.Pop()
			if !ok {
				break
			}
			got = append(got, u)
		}
		return len(got) >= n
	}, 2*time.Second, time.Millisecond)
	return got
}

func readWireFrame(r io.Reader) ([]byte, error) {
	var prefix [protocol.LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestOMSEngine_AckThenFill(t *testing.T) {
	ln := listenLoopback(t)
	received := make(chan protocol.NewOrder, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		payload, err := readWireFrame(conn)
		if err != nil {
			return
		}
		var order protocol.NewOrder
		if !assert.NoError(t, order.UnmarshalBinary(payload)) {
			return
		}
		received <- order

		ack := protocol.ExecReport{ClientOrderID: order.ClientOrderID, MDEventID: order.MDEventID, ExecType: protocol.ExecAck}
		fill := protocol.ExecReport{
			ClientOrderID: order.ClientOrderID,
			MDEventID:     order.MDEventID,
			ExecType:      protocol.ExecFill,
			FillPrice:     order.Price,
			FillQty:       order.Qty,
		}

		var out []byte
		out = protocol.AppendMessage(out, &ack)
		// garbage between the two reports must be skipped
		out = protocol.AppendFrame(out, []byte{0xDE, 0xAD, 0x01, 0x00})
		out = protocol.AppendMessage(out, &fill)
		_, _ = conn.Write(out)

		// hold the session open until the engine hangs up
		_, _ = io.Copy(io.Discard, conn)
	}()

	h := newOMSHarness(t, ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	h.submit(t, OrderRequest{
		RequestID: 9,
		Shard:     1,
		Symbol:    "BTCUSDT",
		Side:      Buy,
		Price:     px("100.05"),
		Qty:       qty("0.5"),
		MDEventID: 1234,
	})

	var order protocol.NewOrder
	select {
	case order = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("exchange never received the order")
	}
	assert.Equal(t, uint64(1), order.ClientOrderID, "client order ids start at 1")
	assert.Equal(t, uint64(1234), order.MDEventID)
	assert.Equal(t, protocol.SideBuy, order.Side)
	assert.Equal(t, int64(px("100.05")), order.Price)
	assert.Equal(t, int64(qty("0.5")), order.Qty)
	assert.NotZero(t, order.SendTime)

	updates := h.waitExecs(t, 2)
	require.Len(t, updates, 2, "exactly one update per report")
	assert.Equal(t, ExecAck, updates[0].ExecType)
	assert.Equal(t, ExecFill, updates[1].ExecType)
	for _, u := range updates {
		assert.Equal(t, uint64(1), u.ClientOrderID)
		assert.Equal(t, uint64(9), u.RequestID)
		assert.Equal(t, 1, u.Shard)
		assert.Equal(t, "BTCUSDT", u.Symbol)
	}
	assert.Equal(t, px("100.05"), updates[1].FillPrice)
	assert.Equal(t, qty("0.5"), updates[1].CumQty)

	require.Eventually(t, func() bool { return h.engine.Stats().Skipped == 1 }, time.Second, time.Millisecond)
	stats := h.engine.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, int64(0), stats.Active)
	assert.True(t, stats.Connected)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, h.engine.Running())
	assert.ErrorIs(t, h.engine.Run(context.Background()), ErrAlreadyStarted)
}

func TestOMSEngine_DisconnectRejectsWorkingOrders(t *testing.T) {
	ln := listenLoopback(t)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = readWireFrame(conn)
		_ = conn.Close()
	}()

	h := newOMSHarness(t, ln.Addr().String())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	h.submit(t, OrderRequest{RequestID: 4, Shard: 0, Symbol: "ETHUSDT", Side: Sell, Price: px("10"), Qty: qty("1")})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("engine kept running after the exchange hung up")
	}

	updates := h.waitExecs(t, 1)
	require.Len(t, updates, 1)
	assert.Equal(t, ExecReject, updates[0].ExecType)
	assert.Equal(t, RejectReasonDisconnect, updates[0].Reason)
	assert.Equal(t, uint64(4), updates[0].RequestID)
	assert.Equal(t, int64(0), h.engine.Stats().Active)
}

func TestOMSEngine_ReportAfterTerminalIsSkipped(t *testing.T) {
	ln := listenLoopback(t)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		payload, err := readWireFrame(conn)
		if err != nil {
			return
		}
		var order protocol.NewOrder
		if err := order.UnmarshalBinary(payload); err != nil {
			return
		}

		fill := protocol.ExecReport{
			ClientOrderID: order.ClientOrderID,
			MDEventID:     order.MDEventID,
			ExecType:      protocol.ExecFill,
			FillPrice:     order.Price,
			FillQty:       order.Qty,
		}
		lateAck := protocol.ExecReport{ClientOrderID: order.ClientOrderID, MDEventID: order.MDEventID, ExecType: protocol.ExecAck}

		var out []byte
		out = protocol.AppendMessage(out, &fill)
		out = protocol.AppendMessage(out, &lateAck)
		_, _ = conn.Write(out)
	}()

	h := newOMSHarness(t, ln.Addr().String())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()

	h.submit(t, OrderRequest{RequestID: 7, Shard: 2, Symbol: "BTCUSDT", Side: Buy, Price: px("100"), Qty: qty("1")})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("engine kept running after the exchange hung up")
	}

	var updates []ExecUpdate
	h.execs.Drain(func(u ExecUpdate) { updates = append(updates, u) })
	require.Len(t, updates, 1, "late ack and disconnect must not touch a filled order")
	assert.Equal(t, ExecFill, updates[0].ExecType)
	assert.Equal(t, qty("1"), updates[0].CumQty)

	stats := h.engine.Stats()
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Skipped)
}

func TestOMSEngine_ClientOrderIDsIncrease(t *testing.T) {
	ln := listenLoopback(t)
	received := make(chan protocol.NewOrder, 2)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			payload, err := readWireFrame(conn)
			if err != nil {
				return
			}
			var order protocol.NewOrder
			if err := order.UnmarshalBinary(payload); err != nil {
				return
			}
			received <- order

			ack := protocol.ExecReport{ClientOrderID: order.ClientOrderID, MDEventID: order.MDEventID, ExecType: protocol.ExecAck}
			fill := protocol.ExecReport{
				ClientOrderID: order.ClientOrderID,
				MDEventID:     order.MDEventID,
				ExecType:      protocol.ExecFill,
				FillPrice:     order.Price,
				FillQty:       order.Qty,
			}
			var out []byte
			out = protocol.AppendMessage(out, &ack)
			out = protocol.AppendMessage(out, &fill)
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
		_, _ = io.Copy(io.Discard, conn)
	}()

	h := newOMSHarness(t, ln.Addr().String())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	h.submit(t, OrderRequest{RequestID: 11, Shard: 0, Symbol: "BTCUSDT", Side: Buy, Price: px("100"), Qty: qty("1"), MDEventID: 1})
	h.submit(t, OrderRequest{RequestID: 12, Shard: 1, Symbol: "ETHUSDT", Side: Sell, Price: px("10"), Qty: qty("2"), MDEventID: 2})

	var ids []uint64
	for i := 0; i < 2; i++ {
		select {
		case order := <-received:
			ids = append(ids, order.ClientOrderID)
		case <-time.After(2 * time.Second):
			t.Fatal("exchange never received the order")
		}
	}
	assert.Equal(t, []uint64{1, 2}, ids)

	updates := h.waitExecs(t, 4)
	require.Len(t, updates, 4)

	byOrder := map[uint64][]ExecUpdate{}
	for _, u := range updates {
		byOrder[u.ClientOrderID] = append(byOrder[u.ClientOrderID], u)
	}
	require.Len(t, byOrder, 2)
	for id, want := range map[uint64]uint64{1: 11, 2: 12} {
		got := byOrder[id]
		require.Len(t, got, 2, "cl_ord_id=%d", id)
		assert.Equal(t, ExecAck, got[0].ExecType)
		assert.Equal(t, ExecFill, got[1].ExecType)
		for _, u := range got {
			assert.Equal(t, want, u.RequestID, "cl_ord_id=%d", id)
		}
	}
	assert.Equal(t, "ETHUSDT", byOrder[2][1].Symbol)
	assert.Equal(t, qty("2"), byOrder[2][1].CumQty)

	stats := h.engine.Stats()
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, int64(0), stats.Active)

	cancel()
	require.NoError(t, <-done)
}

func TestOMSEngine_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	h := newOMSHarness(t, addr)
	err = h.engine.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDisconnected)
	assert.False(t, h.engine.Running())
}

func TestOMSEngine_NeedsDoorbell(t *testing.T) {
	ln := listenLoopback(t)
	engine := NewOMSEngine(OMSEngineConfig{Gateway: GatewayConfig{Addr: ln.Addr().String()}})
	assert.ErrorIs(t, engine.Run(context.Background()), ErrInvalidParam)
}
