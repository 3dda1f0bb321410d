package db

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/exaring/otelpgx"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sujalbistaa/murmur/internal/models"
)

// Init opens a GORM connection for a postgres:// or sqlite:// URL.
// Postgres goes through pgx so queries are traced by otelpgx.
func Init(dbURL string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch {
	case strings.HasPrefix(dbURL, "postgres://"):
		connConfig, err := pgx.ParseConfig(dbURL)
		if err != nil {
			return nil, fmt.Errorf("parse postgres url: %w", err)
		}
		connConfig.Tracer = otelpgx.NewTracer()
		dialector = postgres.New(postgres.Config{Conn: stdlib.OpenDB(*connConfig)})
		slog.Info("Connecting to PostgreSQL database", "host", connConfig.Host, "database", connConfig.Database)
	case strings.HasPrefix(dbURL, "sqlite://"):
		dsn := strings.TrimPrefix(dbURL, "sqlite://")
		dialector = sqlite.Open(sqliteDSN(dsn))
		slog.Info("Connecting to SQLite database", "path", dsn)
	default:
		return nil, fmt.Errorf("invalid DATABASE_URL prefix, must start with postgres:// or sqlite://")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	slog.Info("Database connection established")
	return db, nil
}

// Migrate creates or updates the schema for every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
