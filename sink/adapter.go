package sink

import (
	"fmt"
	"sort"
	"sync"
)

// Meta identifies the record a payload came from.
type Meta struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Options is what every driver's Configure accepts.
type Options struct {
	Path           string  // "-" means standard output
	SyncEveryWrite bool    // fsync after each append
	Framing        Framing // none|newline|length
	StatePath      string  // offsets state file; "" derives one, "-" disables
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // opens the destination
	Append(payload []byte, m Meta) error
	// LastWritten reports the partition of the most recent append and the
	// highest offset written to it.
	LastWritten() (Meta, bool)
	Offsets() map[int32]int64
	Close() error // idempotent
}

type factory = func() Adapter

var (
	regMu sync.RWMutex
	reg   = map[string]factory{}
)

func Register(name string, f factory) {
	regMu.Lock()
	reg[name] = f
	regMu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	regMu.RLock()
	f, ok := reg[name]
	regMu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func Drivers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(reg))
	for name := range reg {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
