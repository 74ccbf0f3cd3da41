// Package mllp implements Minimal Lower Layer Protocol framing and a TCP
// server that dispatches each framed payload to a handler.
package mllp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D

	maxMessageSize = 1 << 20
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Handler receives one unframed payload and returns the reply payload.
// A nil reply sends nothing.
type Handler func(ctx context.Context, payload []byte) []byte

// Server accepts MLLP connections. Each connection may carry any number of
// frames; replies are written in order on the same connection.
type Server struct {
	addr     string
	handler  Handler
	logger   zerolog.Logger
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(addr string, handler Handler, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.With().Str("component", "mllp").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}

		if !s.track(conn, true) {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.serve(conn)
		}()
	}
}

// track reports false when the server is stopping. Stop cancels the
// context before it walks conns, so a late connection is closed here.
func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.ctx.Err() != nil {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) serve(conn net.Conn) {
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for s.ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			if len(buf) > maxMessageSize {
				s.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("frame exceeds max size, closing connection")
				return
			}
			for {
				payload, rest, found := Unframe(buf)
				if !found {
					break
				}
				buf = rest
				s.dispatch(conn, payload)
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(buf) > 0 {
				continue
			}
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, payload []byte) {
	reply := s.handler(s.ctx, payload)
	if reply == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(Frame(reply)); err != nil {
		s.logger.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("write failed")
	}
}

// Frame wraps data as <VT>data<FS><CR>.
func Frame(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, StartBlock)
	frame = append(frame, data...)
	return append(frame, EndBlock, CarriageReturn)
}

// Unframe extracts the first complete frame in data. Bytes before the start
// block are discarded. found is false while the frame is incomplete.
func Unframe(data []byte) (payload, rest []byte, found bool) {
	start := bytes.IndexByte(data, StartBlock)
	if start == -1 {
		return nil, data, false
	}
	end := bytes.Index(data[start+1:], []byte{EndBlock, CarriageReturn})
	if end == -1 {
		return nil, data, false
	}
	end += start + 1
	return data[start+1 : end], data[end+2:], true
}
