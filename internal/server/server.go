// Package server exposes the operational surface of the redeemer: an HTTP
// server for liveness, Prometheus metrics and cycle status, and a gRPC
// health service per variant.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

// NewRouter builds the HTTP handler.
func NewRouter(status *Status, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"cycles": status.Reports()})
	})
	return r
}

type Server struct {
	httpAddr string
	grpcAddr string
	status   *Status
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func New(httpPort, grpcPort int, status *Status, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	return &Server{
		httpAddr: fmt.Sprintf(":%d", httpPort),
		grpcAddr: fmt.Sprintf(":%d", grpcPort),
		status:   status,
		gatherer: gatherer,
		log:      log.Named("server"),
	}
}

// Run serves until ctx is cancelled, then shuts both servers down.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.grpcAddr, err)
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.status.Health())

	srv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           NewRouter(s.status, s.gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTP server starting", zap.String("addr", s.httpAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("gRPC health server starting", zap.String("addr", s.grpcAddr))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.status.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP server shutdown error", zap.Error(err))
		}
		gs.GracefulStop()
		return nil
	})
	return g.Wait()
}
