package main

import (
	"flag"
	"log"

	"momopay-service/internal/config"
	"momopay-service/internal/database"
	"momopay-service/internal/logging"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the SQL migrations")
	flag.Parse()

	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.Logging)

	logger.Info("Running database migrations...")
	if err := database.MigrateUp(cfg.Database, *dir, logging.Component(logger, "migrate")); err != nil {
		logger.WithError(err).Fatal("Migrations failed")
	}
	logger.Info("Migrations completed successfully!")
}
