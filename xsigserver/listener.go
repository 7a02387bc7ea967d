package xsigserver

import (
	"errors"
	"net"
	"reflect"
	"strconv"
	"time"
)

func (s *Server) listen(host string, port int) (net.Listener, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	s.logger.Debug("try to listen", "address", address)
	var lc net.ListenConfig
	listener, err := lc.Listen(s.pctx, "tcp", address)
	if err != nil {
		s.logger.Error("failed to listen", "address", address, "error", err)
		return nil, err
	}

	return listener, nil
}

// acceptConn is the accept loop task. A new connection replaces the active one.
func (s *Server) acceptConn() bool {
	tcpListener := s.getTCPListener()
	// listener already closed, skip
	if tcpListener == nil {
		return false
	}

	conn, err := tcpListener.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			ctx := s.taskMgr.Context()
			select {
			case <-ctx.Done():
				s.logger.Debug("accept canceled by context", "method", "acceptConn", "error", err, "ctxError", ctx.Err())
				return false
			default:
				return true // re-accept if context is not done
			}
		}

		if !s.shutdown.Load() {
			s.logger.Error("failed to accept connection", "method", "acceptConn", "error", err)
			return true // re-accept again
		}

		return false // terminate this task
	}

	remote := conn.RemoteAddr().String()
	s.logger.Debug("connection accepted", "method", "acceptConn", "remote_address", remote)

	if err := s.serveConn(conn, remote); err != nil {
		s.logger.Error("failed to serve connection", "remote_address", remote, "error", err)
	}

	return true
}

func (s *Server) getTCPListener() *net.TCPListener {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()
	if s.listener == nil {
		return nil
	}

	tcpListener, ok := s.listener.(*net.TCPListener)
	if !ok {
		s.logger.Error("failed to convert listener to TCPListener", "type", reflect.TypeOf(s.listener))
		return nil
	}

	err := tcpListener.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout()))
	if err != nil {
		s.logger.Error("failed to set deadline for tcp listener", "error", err)
		return nil
	}

	return tcpListener
}

func (s *Server) closeListener() error {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener == nil {
		return nil
	}

	err := s.listener.Close()
	s.listener = nil
	if err != nil {
		s.logger.Debug("failed to close listener", "error", err)
	}

	return err
}
