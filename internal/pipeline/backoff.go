package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultBackoffMin = 100 * time.Millisecond
	DefaultBackoffMax = 5 * time.Second
)

// Backoff is a capped exponential delay for transient source errors. Values
// always fall inside [floor, ceil] even with jitter applied.
type Backoff struct {
	exp         *backoff.ExponentialBackOff
	floor, ceil time.Duration
}

func NewBackoff(floor, ceil time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffMin
	}
	if ceil < floor {
		ceil = floor
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     floor,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         ceil,
	}
	exp.Reset()
	return &Backoff{exp: exp, floor: floor, ceil: ceil}
}

func (b *Backoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	switch {
	case d < b.floor:
		return b.floor
	case d > b.ceil:
		return b.ceil
	}
	return d
}

func (b *Backoff) Reset() { b.exp.Reset() }

// sleepCtx waits for d or until ctx is done, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
