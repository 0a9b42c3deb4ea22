package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
)

var (
	ErrNoDSN  = errors.New("postgres.Config: no DSN defined")
	ErrBadDSN = errors.New("postgres.Config: DSN is invalid")
)

const (
	connectAttempts = 5
	connectTimeout  = 5 * time.Second
	initialBackoff  = 500 * time.Millisecond
)

func init() {
	store.Register("postgres", Factory{})
}

// Factory builds postgres storage backends from a Config.
type Factory struct{}

// Build connects to the database, retrying with exponential backoff, and
// creates the captcha_sessions table unless Config.SkipMigrate is set.
func (Factory) Build(ctx context.Context, clk clock.Clock, data json.RawMessage) (store.Interface, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	var (
		pool    *pgxpool.Pool
		backoff = initialBackoff
	)

	for i := 1; i <= connectAttempts; i++ {
		pool, err = connect(ctx, poolConfig)
		if err == nil {
			break
		}

		slog.Warn("can't connect to postgres, retrying", "attempt", i, "backoff", backoff, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to postgres after %d attempts: %w", connectAttempts, err)
	}

	if !config.SkipMigrate {
		if _, err := pool.Exec(ctx, Schema); err != nil {
			pool.Close()
			return nil, fmt.Errorf("can't create captcha_sessions table: %w", err)
		}
	}

	s := New(pool, clk)
	s.close = pool.Close
	return s, nil
}

func connect(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Valid parses and validates the postgres store Config.
func (Factory) Valid(data json.RawMessage) error {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

// Config is the postgres storage backend configuration.
type Config struct {
	// DSN is a libpq-style connection string or postgres:// URL.
	DSN string `json:"dsn"`

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32 `json:"maxConns,omitempty"`

	// SkipMigrate disables creating the table at startup, for deployments
	// where the service role can't run DDL.
	SkipMigrate bool `json:"skipMigrate,omitempty"`
}

func (c Config) Valid() error {
	var errs []error

	if c.DSN == "" {
		errs = append(errs, ErrNoDSN)
	} else if _, err := pgxpool.ParseConfig(c.DSN); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrBadDSN, err))
	}

	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("postgres.Config: maxConns must not be negative, got %d", c.MaxConns))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
