package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/logging"

	"github.com/miekg/dns"
)

// ErrServerRunning is returned by Start on a server that is already running
var ErrServerRunning = errors.New("server already running")

// Server serves a Handler over UDP and/or TCP
type Server struct {
	cfg     config.ServerConfig
	handler dns.Handler
	logger  *logging.Logger

	mu        sync.RWMutex
	udpServer *dns.Server
	tcpServer *dns.Server
	udpAddr   net.Addr
	tcpAddr   net.Addr
	running   bool
}

// NewServer creates a server for handler
func NewServer(cfg config.ServerConfig, handler dns.Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Component("dns-server"),
	}
}

// Start binds the listeners and serves until ctx is done or a listener
// fails. Binding errors are returned before any query is served.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}

	addr := s.cfg.ListenAddress
	var pc net.PacketConn
	var ln net.Listener
	var err error

	if s.cfg.UDPEnabled {
		pc, err = net.ListenPacket("udp", addr)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("UDP listen on %s: %w", addr, err)
		}
		s.udpAddr = pc.LocalAddr()
		s.udpServer = &dns.Server{PacketConn: pc, Handler: s.handler, ReadTimeout: 2 * time.Second}
	}
	if s.cfg.TCPEnabled {
		tcpAddr := addr
		// share the UDP port when it was chosen by the kernel
		if s.udpAddr != nil {
			tcpAddr = s.udpAddr.String()
		}
		ln, err = net.Listen("tcp", tcpAddr)
		if err != nil {
			if pc != nil {
				_ = pc.Close()
			}
			s.mu.Unlock()
			return fmt.Errorf("TCP listen on %s: %w", tcpAddr, err)
		}
		s.tcpAddr = ln.Addr()
		s.tcpServer = &dns.Server{Listener: ln, Handler: s.handler}
	}
	s.running = true
	udpSrv, tcpSrv := s.udpServer, s.tcpServer
	s.mu.Unlock()

	errChan := make(chan error, 2)
	if udpSrv != nil {
		go func() {
			if err := udpSrv.ActivateAndServe(); err != nil {
				errChan <- fmt.Errorf("UDP server failed: %w", err)
			}
		}()
	}
	if tcpSrv != nil {
		go func() {
			if err := tcpSrv.ActivateAndServe(); err != nil {
				errChan <- fmt.Errorf("TCP server failed: %w", err)
			}
		}()
	}

	s.logger.Info("DNS server started",
		"address", addr,
		"udp", s.cfg.UDPEnabled,
		"tcp", s.cfg.TCPEnabled)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.logger.Error("DNS server error", "error", err)
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Shutdown stops both listeners, waiting for in-flight queries up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	var errs []error
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown: %w", err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown: %w", err))
		}
	}
	s.running = false
	s.udpServer, s.tcpServer = nil, nil

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("DNS server stopped")
	return nil
}

// IsRunning reports whether Start is serving
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// UDPAddr returns the bound UDP address, or nil
func (s *Server) UDPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.udpAddr
}

// TCPAddr returns the bound TCP address, or nil
func (s *Server) TCPAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tcpAddr
}
