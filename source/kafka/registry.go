package kafka

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an Adapter (SaramaDriver, KgoDriver, test fakes).
type Factory func() Adapter

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

func init() {
	Register("sarama", func() Adapter { return &SaramaDriver{} })
	Register("kgo", func() Adapter { return &KgoDriver{} })
}

// Register adds or replaces a driver factory.
func Register(name string, f Factory) {
	regMu.Lock()
	registry[name] = f
	regMu.Unlock()
}

// NewAdapter returns a driver by name ("sarama", "kgo").
func NewAdapter(name string) (Adapter, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, &ConfigError{Field: "driver", Err: fmt.Errorf("unsupported driver %q", name)}
}

func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
