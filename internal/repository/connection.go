package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver name
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nofendian17/hl-whale-signal/internal/apperr"
)

// Config holds the connection parameters (grounded on
// database/connection.go's Config/NewConnection pair).
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	MaxPool  int
}

// Repository is the sole writer to storage (spec §4.5).
type Repository struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Connect opens a pooled gorm/postgres connection and verifies it with a
// ping; failure here is Fatal (spec §7 — process should not start).
func Connect(cfg Config) (*Repository, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "repository.Connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "repository.Connect", err)
	}

	maxPool := cfg.MaxPool
	if maxPool <= 0 {
		maxPool = 10
	}
	sqlDB.SetMaxOpenConns(maxPool)
	sqlDB.SetMaxIdleConns(maxPool / 2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "repository.Connect", err)
	}

	log.Println("✅ repository: database connection established")
	return &Repository{db: db, sqlDB: sqlDB}, nil
}

// InitSchema auto-migrates every model. All indexes, including the unique
// composite ones, come from the models' gorm tags; no index is created
// beyond what AutoMigrate derives from them.
func (r *Repository) InitSchema() error {
	if err := r.db.AutoMigrate(AllModels()...); err != nil {
		return apperr.Wrap(apperr.Fatal, "InitSchema", err)
	}
	return nil
}

// Ping reports storage health (spec §4.5).
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.sqlDB.PingContext(ctx); err != nil {
		return apperr.Wrap(apperr.TransientNetwork, "Ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	return r.sqlDB.Close()
}

// DB exposes the underlying *gorm.DB for packages (archival) that need
// generic, collection-name-driven access the typed methods don't cover.
func (r *Repository) DB() *gorm.DB {
	return r.db
}
