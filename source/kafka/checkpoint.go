package kafka

import (
	"sync"
	"time"
)

type partKey struct {
	topic     string
	partition int32
}

// Manager decides *when* a driver should flush its marked offsets.
type Manager struct {
	commitEvery time.Duration
	now         func() time.Time

	mu         sync.Mutex
	lastCommit time.Time
	pending    int
	highest    map[partKey]int64
}

func NewManager(commitEvery time.Duration) *Manager {
	m := &Manager{
		commitEvery: commitEvery,
		now:         time.Now,
		highest:     make(map[partKey]int64),
	}
	m.lastCommit = m.now()
	return m
}

// Mark records that offset was handled and reports whether a commit is due.
func (m *Manager) Mark(topic string, partition int32, offset int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := partKey{topic, partition}
	if cur, ok := m.highest[k]; !ok || offset > cur {
		m.highest[k] = offset
	}
	m.pending++
	return m.now().Sub(m.lastCommit) >= m.commitEvery
}

// Committed resets the cadence after the driver flushed.
func (m *Manager) Committed() {
	m.mu.Lock()
	m.pending = 0
	m.lastCommit = m.now()
	m.mu.Unlock()
}

// Pending is the number of marks since the last commit.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Due reports whether marks are waiting and the commit interval has elapsed.
func (m *Manager) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0 && m.now().Sub(m.lastCommit) >= m.commitEvery
}

// Acked returns the highest acked offset per topic and partition.
func (m *Manager) Acked() map[string]map[int32]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[int32]int64)
	for k, off := range m.highest {
		if out[k.topic] == nil {
			out[k.topic] = make(map[int32]int64)
		}
		out[k.topic][k.partition] = off
	}
	return out
}
