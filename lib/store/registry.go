package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/juju/clock"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds store backends from their JSON configuration.
type Factory interface {
	// Build creates a backend. clk is the time source used for expiry
	// decisions; a nil clk means the wall clock.
	Build(ctx context.Context, clk clock.Clock, config json.RawMessage) (Interface, error)
	Valid(config json.RawMessage) error
}

func Register(name string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

// ClockOrWall returns clk, or the wall clock when clk is nil.
func ClockOrWall(clk clock.Clock) clock.Clock {
	if clk == nil {
		return clock.WallClock
	}
	return clk
}
