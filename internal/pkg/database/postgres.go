package database

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PoolConfig sizes the connection pool; zero fields keep the defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// NewPostgres opens a pooled lib/pq connection and verifies it.
func NewPostgres(databaseURL string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if pool.MaxOpen == 0 {
		pool.MaxOpen = 50
	}
	if pool.MaxIdle == 0 {
		pool.MaxIdle = 25
	}
	if pool.MaxLifetime == 0 {
		pool.MaxLifetime = 5 * time.Minute
	}
	if pool.MaxIdleTime == 0 {
		pool.MaxIdleTime = time.Minute
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetConnMaxIdleTime(pool.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Int("max_open", pool.MaxOpen).Msg("Connected to PostgreSQL")
	return db, nil
}

func ClosePostgres(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing PostgreSQL connection")
		return
	}
	log.Info().Msg("PostgreSQL connection closed")
}

// Postgres error classes the repositories care about.
const (
	CodeUniqueViolation = "23505"
	CodeCheckViolation  = "23514"
)

// HasCode reports whether err is a pq error with the given SQLSTATE.
func HasCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// ConstraintName returns the violated constraint of a pq error, if any.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
