// Package relay owns the framed TCP echo relay. Each accepted connection is
// confined to one goroutine that exclusively owns two staging buffers: the
// inbound one absorbs whatever the socket delivered per read, the outbound
// one stages encoded replies until the socket drains them.
package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/stagerelay/internal/observability"
	"github.com/danmuck/stagerelay/internal/protocol/frame"
	"github.com/danmuck/stagerelay/internal/staging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Server accepts relay sessions and echoes complete frames back with the
// response flag set. Payloads stay opaque end to end.
type Server struct {
	name string
	cfg  Config

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(name string, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		name:  name,
		cfg:   cfg,
		conns: make(map[net.Conn]struct{}),
	}, nil
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("name", s.name).Str("addr", ln.Addr().String()).Msg("relay listening")
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

// ActiveSessions reports the number of currently tracked connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)

	sessionID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	observability.RecordConnectionOpened(s.name)
	log.Info().Str("session", sessionID).Str("remote", remote).Msg("session opened")
	defer func() {
		observability.RecordConnectionClosed(s.name)
		log.Info().Str("session", sessionID).Str("remote", remote).Msg("session closed")
	}()

	// The session goroutine is the buffer's single owner for its whole
	// lifetime; nothing else ever touches it.
	inbound, err := staging.NewWithLimits(s.cfg.InitialBufferBytes, s.cfg.stagingLimits())
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("inbound staging alloc failed")
		return
	}
	defer inbound.Release()
	outbound, err := staging.NewWithLimits(s.cfg.InitialBufferBytes, s.cfg.stagingLimits())
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("outbound staging alloc failed")
		return
	}
	defer outbound.Release()

	var inSeen, outSeen staging.Stats
	scratch := make([]byte, s.cfg.ReadChunkBytes)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, readErr := conn.Read(scratch)
		if n > 0 {
			if err := inbound.Write(scratch[:n]); err != nil {
				// Staging exhaustion fails this session, not the process.
				log.Warn().Err(err).Str("session", sessionID).Msg("inbound staging full")
				return
			}
			inSeen = s.publishBufferStats("inbound", inbound, inSeen)
			if err := s.drainFrames(sessionID, inbound, outbound); err != nil {
				log.Warn().Err(err).Str("session", sessionID).Msg("frame decode failed")
				return
			}
			outSeen = s.publishBufferStats("outbound", outbound, outSeen)
			if err := s.flush(conn, outbound); err != nil {
				log.Warn().Err(err).Str("session", sessionID).Msg("flush failed")
				return
			}
		}
		if readErr != nil {
			return
		}
	}
}

// drainFrames retires every complete frame currently staged inbound and
// stages one response per frame outbound.
func (s *Server) drainFrames(sessionID string, inbound, outbound *staging.Buffer) error {
	for {
		f, ok, err := frame.Decode(inbound, s.cfg.Frame)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		observability.RecordFrame(s.name, "inbound", len(f.Payload))
		log.Debug().
			Str("session", sessionID).
			Uint64("message_id", f.Header.MessageID).
			Uint32("message_type", f.Header.MessageType).
			Int("payload_bytes", len(f.Payload)).
			Msg("frame staged")

		reply := f
		reply.Header.Flags |= frame.FlagIsResponse
		if err := frame.Append(outbound, reply, s.cfg.Frame); err != nil {
			return err
		}
		observability.RecordFrame(s.name, "outbound", len(reply.Payload))
	}
}

// flush drains the outbound staging buffer to the socket, retiring exactly
// what each write accepted.
func (s *Server) flush(conn net.Conn, outbound *staging.Buffer) error {
	for outbound.Len() > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		n, err := conn.Write(outbound.Peek())
		outbound.Skip(n)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) publishBufferStats(direction string, buf *staging.Buffer, seen staging.Stats) staging.Stats {
	cur := buf.Stats()
	observability.RecordBufferStats(s.name, direction,
		cur.Grows-seen.Grows, cur.Compactions-seen.Compactions)
	return cur
}
