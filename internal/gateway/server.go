package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaofeng19920506/microservice/internal/config"
	"github.com/xiaofeng19920506/microservice/internal/logging"
)

// Server wraps the gateway with HTTP server lifecycle management.
type Server struct {
	gateway    *Gateway
	httpServer *http.Server
	config     *config.Config
}

// NewServer creates a gateway server from configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		gateway: gw,
		config:  cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      gw.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

// Run starts the server and blocks until a shutdown signal arrives, then
// drains in-flight requests within the configured shutdown timeout.
func (s *Server) Run() error {
	if s.config.HealthCheck.Enabled {
		s.gateway.HealthChecker().Start()
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("shutting down", zap.String("signal", sig.String()))
	}

	return s.Shutdown()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.config.HealthCheck.Enabled {
		s.gateway.HealthChecker().Stop()
	}

	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.gateway.Close(); err == nil {
		err = closeErr
	}
	return err
}
