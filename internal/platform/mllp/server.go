package mllp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hl7-gateway/internal/platform/hl7v2"
)

const (
	// pollInterval bounds how long accept and read block before the stop
	// signal is rechecked, so shutdown latency is bounded.
	pollInterval = 1 * time.Second

	// writeTimeout is the deadline for writing an acknowledgement back.
	writeTimeout = 10 * time.Second

	readChunkSize = 4096
)

// Metrics receives transport-level observations. Implementations must be
// safe for concurrent use. A nil Metrics disables instrumentation.
type Metrics interface {
	ConnOpened()
	ConnClosed()
	MessageHandled(msgType string, code hl7v2.AckCode, d time.Duration)
}

// Config carries the tunables for a Server. Zero values select defaults.
type Config struct {
	// Addr is the host:port to bind, e.g. "0.0.0.0:2575".
	Addr string

	// MaxMessageBytes caps one connection's accumulation buffer.
	MaxMessageBytes int

	// IdleTimeout closes a connection that has carried no bytes for this
	// long and holds no partial frame. Zero disables idle closing.
	IdleTimeout time.Duration

	Logger  zerolog.Logger
	Metrics Metrics
}

// Server listens for MLLP-framed HL7 v2 messages over TCP and dispatches
// each complete message to an injected Processor. One goroutine handles
// one connection; handlers share nothing but the stop channel.
type Server struct {
	cfg  Config
	proc hl7v2.Processor

	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewServer builds a Server around the given processor. The processor is
// fixed at construction; there is no way to swap it on a running server.
func NewServer(cfg Config, proc hl7v2.Processor) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Server{
		cfg:   cfg,
		proc:  proc,
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop in a background
// goroutine. A bind failure is the only error it returns; everything after
// a successful bind is handled per-connection.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mllp: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Msg("mllp listener started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop signals every loop to exit, closes the listener and all tracked
// connections, and waits for the handler goroutines to drain. A handler
// that is mid-frame finishes writing its acknowledgement first.
func (s *Server) Stop() error {
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}

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
	s.cfg.Logger.Info().Msg("mllp listener stopped")
	return err
}

// Addr returns the bound address, which is the way to recover the real
// port after starting with ":0".
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		// Bounded accept so the stop signal is observed between waits.
		if tcp, ok := s.listener.(*net.TCPListener); ok {
			tcp.SetDeadline(time.Now().Add(pollInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.done:
			default:
				s.cfg.Logger.Error().Err(err).Msg("mllp accept failed")
			}
			return
		}

		s.cfg.Logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")
		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			if m := s.cfg.Metrics; m != nil {
				m.ConnOpened()
				defer m.ConnClosed()
			}
			s.handleConn(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConn runs one connection's read → extract → dispatch → acknowledge
// loop until the peer disconnects, the stream misbehaves, or the server
// stops. Frames are handled strictly in arrival order.
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.cfg.Logger.With().Str("remote", remote).Logger()

	dec := NewDecoder(s.cfg.MaxMessageBytes)
	readBuf := make([]byte, readChunkSize)
	lastActivity := time.Now()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(readBuf)
		if n > 0 {
			lastActivity = time.Now()
			if perr := dec.Push(readBuf[:n]); perr != nil {
				logger.Warn().Err(perr).Msg("closing connection")
				return
			}
			for {
				payload, ok := dec.Next()
				if !ok {
					break
				}
				s.dispatch(logger, conn, payload)
			}
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if s.cfg.IdleTimeout > 0 && dec.Buffered() == 0 &&
					time.Since(lastActivity) > s.cfg.IdleTimeout {
					logger.Info().Msg("closing idle connection")
					return
				}
				continue
			}
			// EOF, reset, or any other read error ends only this handler.
			logger.Info().Msg("connection closed")
			return
		}
	}
}

// dispatch processes one extracted frame and always writes an
// acknowledgement back, whatever happened while processing.
func (s *Server) dispatch(logger zerolog.Logger, conn net.Conn, payload []byte) {
	raw := DecodeText(payload)

	in := hl7v2.Inbound{Raw: raw, Remote: conn.RemoteAddr().String()}
	if msg, err := hl7v2.Parse(payload); err == nil {
		in.Msg = msg
	} else {
		logger.Warn().Err(err).Msg("hl7 parse failed, passing raw text only")
	}

	start := time.Now()
	code := hl7v2.AckAccept
	if err := s.process(in); err != nil {
		code = hl7v2.AckError
		logger.Error().Err(err).Str("type", in.MessageType()).Msg("message processing failed")
	}
	elapsed := time.Since(start)

	ack := hl7v2.BuildAck(raw, code)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(Frame([]byte(ack))); err != nil {
		logger.Error().Err(err).Msg("ack write failed")
		return
	}

	logger.Info().
		Str("type", in.MessageType()).
		Str("ack", string(code)).
		Dur("elapsed", elapsed).
		Msg("message acknowledged")

	if m := s.cfg.Metrics; m != nil {
		m.MessageHandled(in.MessageType(), code, elapsed)
	}
}

// process invokes the injected processor, converting a panic into an error
// so one bad frame cannot take the connection or the listener down.
func (s *Server) process(in hl7v2.Inbound) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return s.proc.Process(s.baseCtx, in)
}
