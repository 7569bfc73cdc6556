// Package simex is a simulated exchange: it acknowledges and completely fills every
// order it receives over the hft wire protocol.
package simex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x5487/hft/protocol"
	"github.com/rs/xid"
)

const (
	DefaultAddr      = "127.0.0.1:9001"
	DefaultAckDelay  = 200 * time.Microsecond
	DefaultFillDelay = 400 * time.Microsecond

	readBufferSize = 2048
)

// Stats is a point-in-time copy of the server counters.
type Stats struct {
	Sessions uint64
	Orders   uint64
	Reports  uint64
	Skipped  uint64
}

// Server accepts NewOrder frames and answers each with an Ack after AckDelay and
// a Fill at the requested price and quantity after a further FillDelay.
// Every connection is served on its own goroutine.
type Server struct {
	Addr      string
	AckDelay  time.Duration
	FillDelay time.Duration

	mu       sync.Mutex
	sessions map[xid.ID]net.Conn
	wg       sync.WaitGroup

	sessionCount atomic.Uint64
	orders       atomic.Uint64
	reports      atomic.Uint64
	skipped      atomic.Uint64
}

// NewServer creates a server with the default delays.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		Addr:      addr,
		AckDelay:  DefaultAckDelay,
		FillDelay: DefaultFillDelay,
	}
}

// ListenAndServe listens on s.Addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("simex: listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln and every open
// session before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger.Info("simex listening",
		slog.String("addr", ln.Addr().String()),
		slog.Duration("ack_delay", s.AckDelay),
		slog.Duration("fill_delay", s.FillDelay),
	)

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeSessions()
	})
	defer stop()

	var err error
	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() == nil && !errors.Is(acceptErr, net.ErrClosed) {
				err = fmt.Errorf("simex: accept: %w", acceptErr)
			}
			break
		}

		id := s.addSession(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.removeSession(id)
			s.serveConn(ctx, id, conn)
		}()
	}

	_ = ln.Close()
	s.closeSessions()
	s.wg.Wait()
	logger.Info("simex stopped")
	return err
}

func (s *Server) addSession(conn net.Conn) xid.ID {
	id := xid.New()
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[xid.ID]net.Conn)
	}
	s.sessions[id] = conn
	s.mu.Unlock()
	s.sessionCount.Add(1)
	return id
}

func (s *Server) removeSession(id xid.ID) {
	s.mu.Lock()
	conn, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.sessions {
		_ = conn.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, id xid.ID, conn net.Conn) {
	log := logger.With(slog.String("session", id.String()), slog.String("remote", conn.RemoteAddr().String()))
	log.Info("client connected")
	defer log.Info("client disconnected")

	acc := protocol.NewAccumulator(readBufferSize)
	buf := make([]byte, readBufferSize)
	out := make([]byte, 0, protocol.LengthPrefixSize+protocol.ExecReportSize)

	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = acc.Write(buf[:n])
			for {
				payload, ok, ferr := acc.Next()
				if ferr != nil {
					log.Warn("inbound stream corrupt", slog.String("error", ferr.Error()))
					return
				}
				if !ok {
					break
				}

				var order protocol.NewOrder
				if err := order.UnmarshalBinary(payload); err != nil {
					s.skipped.Add(1)
					log.Debug("frame skipped", slog.String("error", err.Error()))
					continue
				}
				var werr error
				if out, werr = s.execute(conn, &order, out); werr != nil {
					log.Warn("write failed", slog.String("error", werr.Error()))
					return
				}
			}
			acc.Compact()
		}
		if err != nil {
			return
		}
	}
}

// execute runs the ack-then-fill model for one order.
func (s *Server) execute(conn net.Conn, order *protocol.NewOrder, out []byte) ([]byte, error) {
	s.orders.Add(1)
	recvTime := time.Now().UnixNano()

	report := protocol.ExecReport{
		ClientOrderID: order.ClientOrderID,
		MDEventID:     order.MDEventID,
		ExecType:      protocol.ExecAck,
		RecvTime:      recvTime,
	}

	if s.AckDelay > 0 {
		time.Sleep(s.AckDelay)
	}
	report.SendTime = time.Now().UnixNano()
	out = protocol.AppendMessage(out[:0], &report)
	if _, err := conn.Write(out); err != nil {
		return out, err
	}
	s.reports.Add(1)

	if s.FillDelay > 0 {
		time.Sleep(s.FillDelay)
	}
	report.ExecType = protocol.ExecFill
	report.FillPrice = order.Price
	report.FillQty = order.Qty
	report.SendTime = time.Now().UnixNano()
	out = protocol.AppendMessage(out[:0], &report)
	if _, err := conn.Write(out); err != nil {
		return out, err
	}
	s.reports.Add(1)
	return out, nil
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.sessionCount.Load(),
		Orders:   s.orders.Load(),
		Reports:  s.reports.Load(),
		Skipped:  s.skipped.Load(),
	}
}
