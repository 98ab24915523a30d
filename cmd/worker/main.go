package main

import (
	"log"

	"momopay-service/internal/bootstrap"
	"momopay-service/internal/config"
	"momopay-service/internal/logging"
	"momopay-service/internal/worker"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("The worker needs a shared store; set STORE_DRIVER=mysql")
	}
	logger := logging.New(cfg.Logging)

	app, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialise services")
	}
	defer app.Close()

	logger.Info("Starting Asynq Worker...")
	if err := worker.StartWorker(app.RedisOpt(), app.Payments, logging.Component(logger, "worker")); err != nil {
		logger.WithError(err).Fatal("could not run worker")
	}
}
