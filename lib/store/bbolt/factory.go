package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath     = errors.New("bbolt: path is missing from config")
	ErrCantWriteToPath = errors.New("bbolt: can't write to path")
	ErrBadLockTimeout  = errors.New("bbolt: lockTimeout must be a non-negative duration")
)

// defaultLockTimeout bounds how long Build waits for another process holding
// the database file lock.
const defaultLockTimeout = 5 * time.Second

func init() {
	store.Register("bbolt", Factory{})
}

// Factory opens bbolt databases from JSON configuration.
type Factory struct{}

func (Factory) Build(ctx context.Context, clk clock.Clock, data json.RawMessage) (store.Interface, error) {
	config, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	bdb, err := bbolt.Open(config.Path, 0600, &bbolt.Options{
		Timeout: config.lockTimeout(),
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	return &Store{
		bdb: bdb,
		clk: store.ClockOrWall(clk),
	}, nil
}

func (Factory) Valid(data json.RawMessage) error {
	_, err := parseConfig(data)
	return err
}

func parseConfig(data json.RawMessage) (Config, error) {
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	if err := config.Valid(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return config, nil
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path of the database file. Its directory must be writable.
	Path string `json:"path"`

	// LockTimeout is a Go duration string. Empty means five seconds.
	LockTimeout string `json:"lockTimeout,omitempty"`

	// NoSync skips fsync after each commit. Records survive a process crash
	// but not a power loss.
	NoSync bool `json:"noSync,omitempty"`
}

func (c Config) lockTimeout() time.Duration {
	if c.LockTimeout == "" {
		return defaultLockTimeout
	}

	d, _ := time.ParseDuration(c.LockTimeout)
	return d
}

func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else if err := probeWritable(filepath.Dir(c.Path)); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrCantWriteToPath, err))
	}

	if c.LockTimeout != "" {
		if d, err := time.ParseDuration(c.LockTimeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrBadLockTimeout, c.LockTimeout))
		}
	}

	return errors.Join(errs...)
}

func probeWritable(dir string) error {
	fout, err := os.CreateTemp(dir, ".captcha-probe-*")
	if err != nil {
		return err
	}
	name := fout.Name()
	fout.Close()
	return os.Remove(name)
}
