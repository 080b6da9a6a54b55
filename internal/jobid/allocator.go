// Package jobid hands out the human-facing job identifiers stamped on
// tickets: an uppercased client prefix followed by a zero-padded sequence,
// e.g. ABT001. Collision safety across concurrent processes is delegated
// entirely to the counter store's atomic increment.
package jobid

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CounterStore is the persistence contract for per-prefix counters.
type CounterStore interface {
	// Add atomically increments the counter for prefix by offset (>=1),
	// creating it at zero first if absent, and returns the new value.
	Add(ctx context.Context, prefix string, offset int64) (int64, error)
	// Current returns the last-issued value without incrementing.
	Current(ctx context.Context, prefix string) (int64, error)
	// Seed force-sets the counter, for administrative reinitialization
	// after bulk imports.
	Seed(ctx context.Context, prefix string, value int64) error
}

const defaultWidth = 3

// Allocator formats counter values into job identifiers.
type Allocator struct {
	store CounterStore
	width int
}

// Option customizes an Allocator.
type Option func(*Allocator)

// WithWidth overrides the zero-padding width (default 3). Counters that
// outgrow the width simply widen, so the 1000th ABT job is ABT1000.
func WithWidth(width int) Option {
	return func(a *Allocator) {
		if width > 0 {
			a.width = width
		}
	}
}

// NewAllocator returns an allocator backed by the given counter store.
func NewAllocator(store CounterStore, opts ...Option) *Allocator {
	a := &Allocator{store: store, width: defaultWidth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next allocates the next identifier for prefix.
func (a *Allocator) Next(ctx context.Context, prefix string) (string, error) {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return "", err
	}
	c, err := a.store.Add(ctx, prefix, 1)
	if err != nil {
		return "", fmt.Errorf("jobid: allocate %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s%0*d", prefix, a.width, c), nil
}

// Current returns the last-issued sequence number for prefix without
// consuming one. Diagnostics only.
func (a *Allocator) Current(ctx context.Context, prefix string) (int64, error) {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return 0, err
	}
	return a.store.Current(ctx, prefix)
}

// Seed force-sets the counter for prefix. Used when importing historical
// tickets: seed to the max observed number so future allocations don't
// collide with pre-existing identifiers.
func (a *Allocator) Seed(ctx context.Context, prefix string, value int64) error {
	prefix, err := normalizePrefix(prefix)
	if err != nil {
		return err
	}
	if value < 0 {
		return errors.New("jobid: seed value must be non-negative")
	}
	return a.store.Seed(ctx, prefix, value)
}

func normalizePrefix(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", errors.New("jobid: empty prefix")
	}
	return prefix, nil
}
