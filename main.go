package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"momopay-service/internal/bootstrap"
	"momopay-service/internal/config"
	grpcServer "momopay-service/internal/grpc"
	"momopay-service/internal/handlers"
	"momopay-service/internal/logging"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Logging)
	gin.SetMode(cfg.App.GinMode)

	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise services")
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := handlers.NewRouter(app.Payments, app.Store, logging.Component(logger, "http"))
	httpSrv := &http.Server{
		Addr:    ":" + cfg.App.HTTPPort,
		Handler: router,
	}
	rpc := grpcServer.NewServer(app.Payments, logging.Component(logger, "grpc"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("HTTP Server starting on port %s", cfg.App.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return grpcServer.StartGRPCServer(cfg.App.GRPCPort, rpc, logging.Component(logger, "grpc"))
	})

	if app.Sweep != nil {
		c, err := app.Sweep.StartScheduler()
		if err != nil {
			logger.WithError(err).Fatal("Failed to schedule sweep")
		}
		defer c.Stop()
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		rpc.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
}
