// Command simulator runs the virtual-world region server: the LLUDP
// transport with its circuit registry and maintenance loops, the viewer
// login endpoint, the operator HTTP surface and the monitor WebSocket
// gateway, plus an optional gRPC health endpoint and datagram trace capture.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verdantia/simulator/internal/config"
	"verdantia/simulator/internal/events"
	"verdantia/simulator/internal/health"
	"verdantia/simulator/internal/httpapi"
	"verdantia/simulator/internal/lludp"
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/login"
	"verdantia/simulator/internal/monitor"
	"verdantia/simulator/internal/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		os.Stderr.WriteString("logger error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	//1.- Seed the login registry from the configured accounts.
	svc := login.NewService()
	for _, acct := range cfg.Accounts {
		agent := svc.RegisterUser(acct.First, acct.Last, acct.Password)
		logger.Info("account registered",
			logging.String("name", acct.First+" "+acct.Last),
			logging.String("agent", agent.String()))
	}

	stream := events.NewStream(events.DefaultRetention)
	options := []lludp.Option{
		lludp.WithObserver(events.TransportObserver{Stream: stream}),
	}

	//2.- Trace capture is opt-in; the tap rides every datagram both ways.
	var recorder *trace.Recorder
	if cfg.TraceDir != "" {
		rec, manifest, err := trace.NewRecorder(cfg.TraceDir, cfg.RegionName, nil)
		if err != nil {
			logger.Fatal("trace capture setup failed", logging.Error(err))
		}
		recorder = rec
		logger.Info("trace capture enabled",
			logging.String("dir", rec.Directory()),
			logging.String("created_at", manifest.CreatedAt))
		options = append(options, lludp.WithTap(func(dir lludp.Direction, addr net.Addr, frame []byte) {
			if err := recorder.RecordDatagram(string(dir), addr.String(), frame); err != nil {
				logger.Debug("trace capture write failed", logging.Error(err))
			}
		}))
		defer func() { _ = recorder.Close() }()
	}

	server, err := lludp.New(cfg, svc, logger, options...)
	if err != nil {
		logger.Fatal("transport bind failed", logging.Error(err))
	}
	server.Start()

	gateway := monitor.NewGateway(logger, stream, server.Health)
	if err := gateway.Start(); err != nil {
		logger.Fatal("monitor gateway start failed", logging.Error(err))
	}
	defer gateway.Stop()

	//3.- The HTTP shutdown handler feeds the same exit path as the signals.
	shutdownRequests := make(chan string, 1)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Health:      server.Health,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 3, nil),
		Shutdown: func(reason string) {
			select {
			case shutdownRequests <- reason:
			default:
			}
		},
	})
	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/login", handlers.LoginHandler(svc, server.LocalAddr().String()))
	mux.HandleFunc("/ws", gateway.Handler())
	statusServer := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: logging.HTTPMiddleware(logger)(mux),
	}
	go func() {
		logger.Info("status endpoint listening", logging.String("addr", cfg.StatusAddr))
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status endpoint failed", logging.Error(err))
		}
	}()

	var healthServer *health.Server
	if cfg.HealthAddr != "" {
		healthServer, err = health.NewServer(logger, cfg.HealthAddr, server.Health)
		if err != nil {
			logger.Fatal("health endpoint bind failed", logging.Error(err))
		}
		healthServer.Start()
	}

	//4.- Block until an operator asks the region to go away.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	reason := "simulator shutting down"
	select {
	case sig := <-signals:
		logger.Info("signal received", logging.String("signal", sig.String()))
	case reason = <-shutdownRequests:
	}

	server.EmergencyShutdown(reason)
	gateway.Stop()
	if healthServer != nil {
		healthServer.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = statusServer.Shutdown(ctx)
	logger.Info("simulator exited")
}
