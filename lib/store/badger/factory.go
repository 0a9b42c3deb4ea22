package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
)

var (
	ErrMissingPath   = errors.New("badger.Config: path is required unless inMemory is set")
	ErrPathAndMemory = errors.New("badger.Config: path and inMemory are mutually exclusive")
)

func init() {
	store.Register("badger", Factory{})
}

// Factory builds badger storage backends from a Config.
type Factory struct{}

func (Factory) Build(ctx context.Context, clk clock.Clock, data json.RawMessage) (store.Interface, error) {
	var config Config
	if err := json.Unmarshal([]byte(data), &config); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, fmt.Errorf("can't create database directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path).WithSyncWrites(config.SyncWrites)
	}

	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.With("store", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open badger database: %w", err)
	}

	return &Store{db: db, clk: store.ClockOrWall(clk)}, nil
}

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

// Config is the badger storage backend configuration.
type Config struct {
	// Path is the directory holding the database files.
	Path string `json:"path,omitempty"`

	// InMemory keeps everything in RAM. Records do not survive restarts.
	InMemory bool `json:"inMemory,omitempty"`

	// SyncWrites fsyncs every commit. Ignored for in-memory databases.
	SyncWrites bool `json:"syncWrites,omitempty"`
}

func (c Config) Valid() error {
	switch {
	case c.InMemory && c.Path != "":
		return ErrPathAndMemory
	case !c.InMemory && c.Path == "":
		return ErrMissingPath
	}

	return nil
}

// badgerLogger routes badger's printf-style logging into slog. Badger's info
// chatter is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
