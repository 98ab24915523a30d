package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"momopay-service/internal/config"
	"momopay-service/internal/models"
)

// Open returns a pooled connection to MySQL and checks it is reachable.
func Open(dsn string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)
	db.SetConnMaxIdleTime(cfg.ConnLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// Connect opens gorm over the pooled connection. Timestamps are written in
// UTC and driver duplicate-key errors are translated to gorm.ErrDuplicatedKey.
func Connect(cfg config.DatabaseConfig, log *logrus.Entry) (*gorm.DB, error) {
	sqlDB, err := Open(cfg.DSN(), cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{"host": cfg.Host, "database": cfg.Name}).Info("Database connection established")
	return db, nil
}

// AutoMigrate creates or alters the tables from the models. Production
// schemas come from the versioned migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.PaymentTransaction{}, &models.OTPVerification{})
}

// MigrateUp applies the SQL migrations under dir. Nothing to apply is not an
// error.
func MigrateUp(cfg config.DatabaseConfig, dir string, log *logrus.Entry) error {
	sqlDB, err := Open(cfg.MigrationDSN(), cfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	driver, err := migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "mysql", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Database schema is up to date")
			return nil
		}
		return fmt.Errorf("migration: %w", err)
	}
	version, dirty, _ := m.Version()
	log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Database migration completed")
	return nil
}
