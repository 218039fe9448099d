package sink

import (
	"maps"
	"sync"
)

// Tracker keeps the per-partition high-water mark of written offsets.
// Offsets never move backwards, so redelivery after a rebalance does not
// regress what is reported.
type Tracker struct {
	mu      sync.Mutex
	last    Meta
	has     bool
	offsets map[int32]int64
}

func (t *Tracker) Record(m Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.offsets == nil {
		t.offsets = make(map[int32]int64)
	}
	if cur, ok := t.offsets[m.Partition]; !ok || m.Offset > cur {
		t.offsets[m.Partition] = m.Offset
	}
	t.last = Meta{Topic: m.Topic, Partition: m.Partition, Offset: t.offsets[m.Partition]}
	t.has = true
}

func (t *Tracker) Last() (Meta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.has
}

// Offsets returns a copy.
func (t *Tracker) Offsets() map[int32]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int32]int64, len(t.offsets))
	maps.Copy(out, t.offsets)
	return out
}
