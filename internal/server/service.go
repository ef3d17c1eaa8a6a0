package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/ddsctl/internal/backend/sim"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrListenAddrRequired = errors.New("server: listen address required")

// ServiceConfig configures the standalone device process.
type ServiceConfig struct {
	ListenAddr  string
	APIAddr     string
	CORSOrigins []string
	Server      Config
	Sim         sim.Options
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr: ":1234",
		APIAddr:    ":8080",
		Server:     DefaultConfig(),
		Sim:        sim.DefaultOptions(),
	}
}

// Service runs the upload server and the status API together.
type Service struct {
	cfg     ServiceConfig
	backend *sim.Backend
	server  *Server
	api     *API
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Server = cfg.Server.WithDefaults()
	backend := sim.New(cfg.Sim)
	srv := New(cfg.Server, backend)
	return &Service{
		cfg:     cfg,
		backend: backend,
		server:  srv,
		api:     NewAPI(srv, cfg.CORSOrigins),
	}
}

func (s *Service) Server() *Server { return s.server }

func (s *Service) Backend() *sim.Backend { return s.backend }

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.ListenAddr)
	if addr == "" {
		return ErrListenAddrRequired
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.server.Serve(ctx, ln)
	})

	if apiAddr := strings.TrimSpace(s.cfg.APIAddr); apiAddr != "" {
		httpSrv := &http.Server{
			Addr:              apiAddr,
			Handler:           s.api.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", apiAddr).Str("node", s.api.NodeID()).Str("kind", s.api.Kind()).Msg("api_listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info().Str("node", s.cfg.Server.NodeID).Msg("service_shutdown")
	return err
}
