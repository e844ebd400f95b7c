//go:build linux

// Package dispatch implements the connection accept loop and the
// per-request-variant handlers that translate protocol requests into
// procmgr.Registry operations.
package dispatch

import (
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/procmgr"
	"github.com/edirooss/persistd/internal/protocol"
)

// DaemonVersion and ProtocolVersion are reported by the `version` request.
const (
	DaemonVersion   = "0.1.0"
	ProtocolVersion = uint(1)
)

// maxConcurrentConns bounds how many connections are served at once via a
// buffered-channel admission semaphore.
const maxConcurrentConns = 256

// Server accepts connections on a Unix domain socket and serves the
// persistd IPC protocol over each.
type Server struct {
	log *zap.Logger
	reg *procmgr.Registry

	sem chan struct{}
}

// New constructs a Server bound to registry reg.
func New(log *zap.Logger, reg *procmgr.Registry) *Server {
	return &Server{
		log: log.Named("dispatch"),
		reg: reg,
		sem: make(chan struct{}, maxConcurrentConns),
	}
}

// Serve accepts connections from ln until it errors or is closed. Each
// connection is handled in its own goroutine and carries a uuid connection
// id through its log lines.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		select {
		case s.sem <- struct{}{}:
			go func() {
				defer func() { <-s.sem }()
				s.handleConn(conn)
			}()
		default:
			s.log.Warn("connection admission limit reached; rejecting")
			conn.Close()
		}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	log := s.log.With(zap.String("conn_id", connID))
	codec := protocol.NewCodec(conn, conn)

	for {
		req, err := codec.ReadRequest()
		if err != nil {
			var decErr *protocol.DecodeError
			if errors.As(err, &decErr) {
				if werr := codec.WriteResponse(protocol.NewErrorResponse(decErr)); werr != nil {
					log.Debug("write error response failed", zap.Error(werr))
					return
				}
				continue
			}
			// io.EOF (clean disconnect) or a framing/I/O failure: close.
			return
		}

		if req.Type == protocol.TypeKill {
			log.Info("kill request received; exiting")
			killDaemon()
			return
		}

		if err := s.dispatch(log, codec, req); err != nil {
			log.Debug("connection ended handling request", zap.String("type", req.Type), zap.Error(err))
			return
		}
	}
}
