package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/wpgarts/captcha/lib/store"
)

type factory struct{}

func (factory) Build(_ context.Context, clk clock.Clock, _ json.RawMessage) (store.Interface, error) {
	return New(clk), nil
}

func (factory) Valid(json.RawMessage) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	clk     clock.Clock
	lock    sync.Mutex
	records map[string]store.Record
}

func (i *impl) Create(_ context.Context, rec store.Record) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	if _, ok := i.records[rec.ID]; ok {
		return fmt.Errorf("%w: %q", store.ErrDuplicateID, rec.ID)
	}

	i.records[rec.ID] = rec
	return nil
}

func (i *impl) Find(_ context.Context, id string, notExpiredOnly bool) (store.Record, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	rec, ok := i.records[id]
	if !ok || (notExpiredOnly && rec.Expired(i.clk.Now())) {
		return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	return rec, nil
}

func (i *impl) Claim(_ context.Context, id string) (store.Record, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	rec, ok := i.records[id]
	if !ok || rec.Expired(i.clk.Now()) {
		return store.Record{}, fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	delete(i.records, id)
	return rec, nil
}

func (i *impl) Delete(_ context.Context, id string) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	if _, ok := i.records[id]; !ok {
		return fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}

	delete(i.records, id)
	return nil
}

func (i *impl) PurgeExpired(_ context.Context) (int, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	now := i.clk.Now()
	n := 0
	for id, rec := range i.records {
		if rec.Expired(now) {
			delete(i.records, id)
			n++
		}
	}

	return n, nil
}

// New creates a simple in-memory store. This will not scale to multiple
// instances of the service.
func New(clk clock.Clock) store.Interface {
	return &impl{
		clk:     store.ClockOrWall(clk),
		records: map[string]store.Record{},
	}
}
