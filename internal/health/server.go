// Package health exposes the simulator's liveness over the standard gRPC
// health checking protocol so orchestrators can probe it without speaking
// the UDP transport.
package health

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	healthsvc "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"verdantia/simulator/internal/lludp"
	"verdantia/simulator/internal/logging"
)

// ServiceName identifies the simulator in health check requests.
const ServiceName = "verdantia.simulator"

// DefaultRefreshInterval is how often the serving status is re-evaluated.
const DefaultRefreshInterval = time.Second

// Server bridges the transport health report onto gRPC health checks.
type Server struct {
	log      *logging.Logger
	report   func() lludp.HealthReport
	interval time.Duration

	listener net.Listener
	grpc     *grpc.Server
	checker  *healthsvc.Server

	started atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option adjusts server construction.
type Option func(*Server)

// WithRefreshInterval overrides the status refresh cadence.
func WithRefreshInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// NewServer binds the health endpoint on addr.
func NewServer(log *logging.Logger, addr string, report func() lludp.HealthReport, opts ...Option) (*Server, error) {
	if log == nil {
		log = logging.L()
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		log:      log,
		report:   report,
		interval: DefaultRefreshInterval,
		listener: listener,
		grpc:     grpc.NewServer(),
		checker:  healthsvc.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	healthpb.RegisterHealthServer(s.grpc, s.checker)
	return s, nil
}

// Addr reports the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start serves health checks and keeps the status current.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.done = make(chan struct{})
	s.refresh()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(s.listener); err != nil {
			s.log.Debug("health endpoint closed", logging.Error(err))
		}
	}()
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.refresh()
			}
		}
	}()
	s.log.Info("health endpoint listening", logging.String("addr", s.listener.Addr().String()))
}

// Stop shuts the endpoint down and waits for in-flight checks.
func (s *Server) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.done)
	s.checker.Shutdown()
	s.grpc.GracefulStop()
	s.wg.Wait()
}

// refresh maps the transport report onto the protocol's serving states.
func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.report != nil && s.report().Running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.checker.SetServingStatus(ServiceName, status)
	s.checker.SetServingStatus("", status)
}
