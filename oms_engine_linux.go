package hft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/0x5487/hft/protocol"
	"golang.org/x/sys/unix"
)

const (
	omsReadBufferSize = 64 << 10
	omsMaxEvents      = 8
)

// OMSEngineConfig wires an OMSEngine into the pipeline.
type OMSEngineConfig struct {
	Gateway   GatewayConfig
	Orders    *Consumer[OrderRequest]
	OrderBell *EventFD
	Execs     *Producer[ExecUpdate]
	ExecBell  Doorbell
	Sink      *LogSink
}

// OMSEngineStats is a point-in-time copy of the OMS engine counters.
type OMSEngineStats struct {
	Sent      uint64
	Received  uint64
	Skipped   uint64
	Dropped   uint64
	Active    int64
	Connected bool
}

// OMSEngine bridges the order ring to a TCP session with the exchange.
// It waits on epoll for the order doorbell and the socket; the socket and the
// order table are only ever touched by the goroutine running Run.
type OMSEngine struct {
	cfg       GatewayConfig
	in        *Consumer[OrderRequest]
	bell      *EventFD
	out       *Producer[ExecUpdate]
	outBell   Doorbell
	sink      *LogSink
	fd        int
	epfd      int
	acc       *protocol.Accumulator
	readBuf   []byte
	writeBuf  []byte
	orders    map[uint64]*OrderState
	nextClOrd uint64

	running  atomic.Bool
	started  atomic.Bool
	sent     atomic.Uint64
	received atomic.Uint64
	skipped  atomic.Uint64
	dropped  atomic.Uint64
	active   atomic.Int64
}

// NewOMSEngine creates the engine. Nothing is connected until Run.
func NewOMSEngine(cfg OMSEngineConfig) *OMSEngine {
	gw := cfg.Gateway
	if gw.Addr == "" {
		gw.Addr = DefaultGatewayAddr
	}
	if gw.WaitTimeout <= 0 {
		gw.WaitTimeout = DefaultWaitTimeout
	}
	if gw.WriteRetryDelay <= 0 {
		gw.WriteRetryDelay = DefaultWriteRetryDelay
	}
	if gw.ConnectTimeout <= 0 {
		gw.ConnectTimeout = DefaultConnectTimeout
	}
	execBell := cfg.ExecBell
	if execBell == nil {
		execBell = NopDoorbell()
	}
	return &OMSEngine{
		cfg:       gw,
		in:        cfg.Orders,
		bell:      cfg.OrderBell,
		out:       cfg.Execs,
		outBell:   execBell,
		sink:      cfg.Sink,
		fd:        -1,
		epfd:      -1,
		acc:       protocol.NewAccumulator(omsReadBufferSize),
		readBuf:   make([]byte, omsReadBufferSize),
		writeBuf:  make([]byte, 0, protocol.LengthPrefixSize+protocol.NewOrderSize),
		orders:    make(map[uint64]*OrderState),
		nextClOrd: 1,
	}
}

func (e *OMSEngine) Name() string {
	return "oms_engine"
}

// Run connects to the exchange and serves the session until ctx is done or the
// exchange goes away. A lost session ends Run with ErrDisconnected; there is no reconnect.
func (e *OMSEngine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := e.setup(); err != nil {
		e.sink.Error("oms engine setup failed", slog.String("addr", e.cfg.Addr), slog.String("error", err.Error()))
		e.teardown()
		return err
	}
	defer e.teardown()

	e.running.Store(true)
	e.sink.Info("oms engine connected", slog.String("addr", e.cfg.Addr))

	events := make([]unix.EpollEvent, omsMaxEvents)
	waitMs := int(e.cfg.WaitTimeout / time.Millisecond)
	if waitMs <= 0 {
		waitMs = 1
	}

	for ctx.Err() == nil && e.running.Load() {
		n, err := unix.EpollWait(e.epfd, events, waitMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.disconnect(fmt.Errorf("epoll wait: %w", err))
			break
		}

		for i := 0; i < n && e.running.Load(); i++ {
			ev := events[i]
			switch int(ev.Fd) {
			case e.bell.FD():
				if _, err := e.bell.Drain(); err != nil {
					e.sink.Warn("order doorbell drain failed", slog.String("error", err.Error()))
				}
				e.drainOrders()
			case e.fd:
				if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
					e.readSocket()
				}
			}
		}

		// orders pushed without a fresh doorbell are picked up here
		if e.running.Load() {
			e.drainOrders()
		}
	}

	if !e.running.Load() {
		return ErrDisconnected
	}
	e.running.Store(false)
	return nil
}

func (e *OMSEngine) setup() error {
	if e.bell == nil {
		return fmt.Errorf("%w: oms engine needs an order doorbell", ErrInvalidParam)
	}

	fd, err := dialNonBlocking(e.cfg.Addr, e.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	e.fd = fd

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll create: %w", err)
	}
	e.epfd = epfd

	bellEv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(e.bell.FD())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, e.bell.FD(), &bellEv); err != nil {
		return fmt.Errorf("epoll add doorbell: %w", err)
	}

	sockEv := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &sockEv); err != nil {
		return fmt.Errorf("epoll add socket: %w", err)
	}
	return nil
}

func (e *OMSEngine) teardown() {
	if e.epfd >= 0 {
		_ = unix.Close(e.epfd)
		e.epfd = -1
	}
	if e.fd >= 0 {
		_ = unix.Close(e.fd)
		e.fd = -1
	}
}

// dialNonBlocking connects a non-blocking TCP socket, waiting at most timeout for
// the handshake to complete.
func dialNonBlocking(addr string, timeout time.Duration) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("resolve %s: %w", addr, err)
	}

	var (
		domain int
		sa     unix.Sockaddr
	)
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if ip4 != nil {
			copy(sa4.Addr[:], ip4)
		}
		domain, sa = unix.AF_INET, sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		domain, sa = unix.AF_INET6, sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", addr, err)
	}
	if err == nil {
		return fd, nil
	}

	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(pfd, int(timeout/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("connect %s: %w", addr, err)
		}
		if n == 0 {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("connect %s: timed out after %s", addr, timeout)
		}
		break
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", addr, err)
	}
	if soErr != 0 {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", addr, unix.Errno(soErr))
	}
	return fd, nil
}

func (e *OMSEngine) drainOrders() {
	e.in.Drain(e.send)
}

func (e *OMSEngine) send(req OrderRequest) {
	if !e.running.Load() {
		e.emit(ExecUpdate{
			RequestID: req.RequestID,
			Shard:     req.Shard,
			Symbol:    req.Symbol,
			MDEventID: req.MDEventID,
			Side:      req.Side,
			ExecType:  ExecReject,
			Reason:    RejectReasonDisconnect,
		})
		return
	}

	cmd := OrderCommand{ClientOrderID: e.nextClOrd, OrderRequest: req}
	e.nextClOrd++

	now := time.Now().UnixNano()
	e.orders[cmd.ClientOrderID] = &OrderState{
		ClientOrderID: cmd.ClientOrderID,
		RequestID:     req.RequestID,
		Shard:         req.Shard,
		Symbol:        req.Symbol,
		MDEventID:     req.MDEventID,
		Side:          req.Side,
		Price:         req.Price,
		Qty:           req.Qty,
		Status:        ExecAck,
		SendTime:      now,
		UpdatedAt:     now,
	}
	e.active.Add(1)
	activeOrders.Inc()

	wire := cmd.NewOrder(now)
	e.writeBuf = protocol.AppendMessage(e.writeBuf[:0], &wire)
	if err := e.writeFull(e.writeBuf); err != nil {
		e.disconnect(fmt.Errorf("write order %d: %w", cmd.ClientOrderID, err))
		return
	}

	e.sent.Add(1)
	ordersSentTotal.WithLabelValues("tcp").Inc()
}

// writeFull writes the whole frame, sleeping WriteRetryDelay whenever the socket buffer is full.
func (e *OMSEngine) writeFull(buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := unix.Write(e.fd, buf[off:])
		switch {
		case errors.Is(err, unix.EAGAIN):
			time.Sleep(e.cfg.WriteRetryDelay)
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return err
		}
		off += n
	}
	return nil
}

// readSocket reads until EAGAIN, which edge-triggered epoll requires, then decodes
// every complete frame.
func (e *OMSEngine) readSocket() {
	var lost error
	for {
		n, err := unix.Read(e.fd, e.readBuf)
		if errors.Is(err, unix.EAGAIN) {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			lost = fmt.Errorf("read: %w", err)
			break
		}
		if n == 0 {
			lost = errors.New("exchange closed the connection")
			break
		}
		_, _ = e.acc.Write(e.readBuf[:n])
	}

	for {
		payload, ok, err := e.acc.Next()
		if err != nil {
			skippedFramesTotal.WithLabelValues("too_large").Inc()
			e.acc.Reset()
			lost = fmt.Errorf("inbound stream corrupt: %w", err)
			break
		}
		if !ok {
			break
		}
		e.onFrame(payload)
	}
	e.acc.Compact()

	if lost != nil {
		e.disconnect(lost)
	}
}

func (e *OMSEngine) onFrame(payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		e.skip(frameSkipReason(err), slog.String("error", err.Error()))
		return
	}
	report, ok := msg.(*protocol.ExecReport)
	if !ok {
		e.skip("unexpected_type", slog.String("msg_type", msg.MsgType().String()))
		return
	}

	state, ok := e.orders[report.ClientOrderID]
	if !ok {
		e.skip("unknown_order", slog.Uint64("cl_ord_id", report.ClientOrderID))
		return
	}
	// a terminal order never changes state again
	if state.Status.Terminal() {
		e.skip("terminal_order",
			slog.Uint64("cl_ord_id", report.ClientOrderID),
			slog.String("status", state.Status.String()),
			slog.String("exec_type", report.ExecType.String()),
		)
		return
	}
	e.received.Add(1)

	now := time.Now().UnixNano()
	state.Status = report.ExecType
	state.UpdatedAt = now
	if report.ExecType == ExecFill || report.ExecType == ExecPartialFill {
		state.CumQty += Qty(report.FillQty)
	}
	if state.Status.Terminal() {
		e.active.Add(-1)
		activeOrders.Dec()
	}
	orderRoundTrip.WithLabelValues(report.ExecType.String()).Observe(time.Duration(now - state.SendTime).Seconds())

	e.emit(ExecUpdate{
		ClientOrderID: state.ClientOrderID,
		RequestID:     state.RequestID,
		Shard:         state.Shard,
		Symbol:        state.Symbol,
		MDEventID:     report.MDEventID,
		Side:          state.Side,
		ExecType:      report.ExecType,
		FillPrice:     Price(report.FillPrice),
		FillQty:       Qty(report.FillQty),
		CumQty:        state.CumQty,
		Reason:        report.Reason,
		ExchRecvTime:  report.RecvTime,
		ExchSendTime:  report.SendTime,
		RecvTime:      now,
	})
}

func (e *OMSEngine) skip(reason string, attrs ...slog.Attr) {
	e.skipped.Add(1)
	skippedFramesTotal.WithLabelValues(reason).Inc()
	e.sink.Debug("inbound frame skipped", append(attrs, slog.String("reason", reason))...)
}

func (e *OMSEngine) emit(u ExecUpdate) {
	if u.RecvTime == 0 {
		u.RecvTime = time.Now().UnixNano()
	}
	execUpdatesTotal.WithLabelValues(u.ExecType.String()).Inc()
	if !e.out.Push(u) {
		e.dropped.Add(1)
		droppedEventsTotal.WithLabelValues("oms_engine").Inc()
		e.sink.Warn("exec queue full, exec update dropped",
			slog.Uint64("cl_ord_id", u.ClientOrderID),
			slog.String("exec_type", u.ExecType.String()),
		)
		return
	}
	if err := e.outBell.Ring(); err != nil {
		e.sink.Warn("exec doorbell ring failed", slog.String("error", err.Error()))
	}
}

// disconnect ends the session. Orders still working are rejected upstream so their
// shards do not wait for reports that will never come.
func (e *OMSEngine) disconnect(cause error) {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.sink.Error("oms engine disconnected", slog.String("addr", e.cfg.Addr), slog.String("error", cause.Error()))

	now := time.Now().UnixNano()
	for _, state := range e.orders {
		if state.Status.Terminal() {
			continue
		}
		state.Status = ExecReject
		state.UpdatedAt = now
		e.active.Add(-1)
		activeOrders.Dec()
		e.emit(ExecUpdate{
			ClientOrderID: state.ClientOrderID,
			RequestID:     state.RequestID,
			Shard:         state.Shard,
			Symbol:        state.Symbol,
			MDEventID:     state.MDEventID,
			Side:          state.Side,
			ExecType:      ExecReject,
			CumQty:        state.CumQty,
			Reason:        RejectReasonDisconnect,
			RecvTime:      now,
		})
	}
}

// Running reports whether the exchange session is up.
func (e *OMSEngine) Running() bool {
	return e.running.Load()
}

// Stats returns the current counters.
func (e *OMSEngine) Stats() OMSEngineStats {
	return OMSEngineStats{
		Sent:      e.sent.Load(),
		Received:  e.received.Load(),
		Skipped:   e.skipped.Load(),
		Dropped:   e.dropped.Load(),
		Active:    e.active.Load(),
		Connected: e.running.Load(),
	}
}

func frameSkipReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrShortPayload):
		return "short_payload"
	default:
		return "malformed"
	}
}

// WithOMSEngine replaces Trade I/O with an OMSEngine connected to cfg.Gateway.Addr.
// Both directions between risk and the engine are signalled with eventfd doorbells.
func WithOMSEngine() Option {
	return WithTerminal(newOMSTerminal)
}

func newOMSTerminal(w TerminalWiring) (Terminal, error) {
	orderBell, err := NewEventFD()
	if err != nil {
		return Terminal{}, err
	}
	execBell, err := NewEventFD()
	if err != nil {
		_ = orderBell.Close()
		return Terminal{}, err
	}

	engine := NewOMSEngine(OMSEngineConfig{
		Gateway:   w.Config.Gateway,
		Orders:    w.Orders,
		OrderBell: orderBell,
		Execs:     w.Execs,
		ExecBell:  execBell,
		Sink:      w.Sink,
	})

	return Terminal{
		Stage:     engine,
		OrderBell: orderBell,
		ExecBell:  execBell,
		Close: func() error {
			return errors.Join(orderBell.Close(), execBell.Close())
		},
	}, nil
}
