package p2p

import (
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/lbm/internal/ratelimit"
	"github.com/Klingon-tech/lbm/internal/secchan"
)

// HandshakeTimeout bounds how long a peer has to complete the secure
// channel handshake before the connection is dropped.
const HandshakeTimeout = 30 * time.Second

// RequestTimeout bounds how long the server waits for the next frame on
// an idle established connection.
const RequestTimeout = 2 * time.Minute

// Server accepts TCP connections, performs the secure-channel handshake,
// applies rate limiting, and dispatches requests to Handlers.
type Server struct {
	ln       net.Listener
	identity secchan.Identity
	limiter  *ratelimit.Limiter
	handlers *Handlers
	logger   zerolog.Logger

	maxFrameBytes int
}

// NewServer wraps an already-bound listener.
func NewServer(ln net.Listener, identity secchan.Identity, limiter *ratelimit.Limiter, handlers *Handlers, logger zerolog.Logger) *Server {
	return &Server{
		ln:            ln,
		identity:      identity,
		limiter:       limiter,
		handlers:      handlers,
		logger:        logger,
		maxFrameBytes: secchan.DefaultMaxFrameBytes,
	}
}

// Close stops accepting new connections by closing the underlying
// listener; in-flight connections are left to finish or time out on
// their own.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	ip := remoteIP(conn)

	if !s.limiter.Connections.Acquire(ip) {
		s.logger.Warn().Str("ip", ip).Msg("connection rejected: too many connections from ip")
		return
	}
	defer s.limiter.Connections.Release(ip)

	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return
	}
	sess, err := secchan.ServerHandshake(conn, s.identity, s.maxFrameBytes)
	if err != nil {
		s.logger.Debug().Err(err).Str("ip", ip).Msg("handshake failed")
		return
	}
	_ = conn.SetDeadline(time.Time{})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(RequestTimeout)); err != nil {
			return
		}
		envBytes, err := secchan.ReadFrame(conn, s.maxFrameBytes)
		if err != nil {
			return
		}

		var req Request
		var reqPlain json.RawMessage
		if err := sess.Open(envBytes, &reqPlain); err != nil {
			return
		}

		res := s.limiter.Requests.Check(sess.PeerSignPub, time.Now())
		if !res.Allowed {
			s.writeRateLimited(conn, sess, res)
			continue
		}

		if err := json.Unmarshal(reqPlain, &req); err != nil {
			return
		}

		resp := s.handlers.Dispatch(req, sess.PeerSignPub)
		sealed, err := sess.Seal(resp)
		if err != nil {
			return
		}
		if err := conn.SetWriteDeadline(time.Now().Add(RequestTimeout)); err != nil {
			return
		}
		if err := secchan.WriteFrame(conn, sealed, s.maxFrameBytes); err != nil {
			return
		}
	}
}

func (s *Server) writeRateLimited(conn net.Conn, sess *secchan.Session, res ratelimit.Result) {
	resp := Response{Error: &ErrorInfo{Code: CodeRateLimited, Message: "rate limit exceeded"}}
	sealed, err := sess.Seal(resp)
	if err != nil {
		return
	}
	_ = secchan.WriteFrame(conn, sealed, s.maxFrameBytes)
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
