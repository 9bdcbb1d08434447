// Package clock provides slot clocks.
package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/escrowbet/internal/domain"
)

// DefaultSlotDuration is the length of one slot unless configured.
const DefaultSlotDuration = 400 * time.Millisecond

// Wall derives slots from wall time: (now - genesis) / slot. Slots never
// go backwards, even if the wall clock does.
type Wall struct {
	genesis time.Time
	slot    time.Duration
	now     func() time.Time
	last    atomic.Uint64
}

var _ domain.Clock = (*Wall)(nil)

// NewWall returns a wall clock starting at genesis.
func NewWall(genesis time.Time, slot time.Duration) (*Wall, error) {
	if slot <= 0 {
		return nil, errors.New("clock: slot duration must be positive")
	}
	return &Wall{genesis: genesis, slot: slot, now: time.Now}, nil
}

// Slot implements domain.Clock.
func (w *Wall) Slot(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var s uint64
	if elapsed := w.now().Sub(w.genesis); elapsed > 0 {
		s = uint64(elapsed / w.slot)
	}
	for {
		last := w.last.Load()
		if s <= last {
			return last, nil
		}
		if w.last.CompareAndSwap(last, s) {
			return s, nil
		}
	}
}

// Manual is a clock set explicitly.
type Manual struct {
	slot atomic.Uint64
}

var _ domain.Clock = (*Manual)(nil)

// NewManual returns a manual clock at slot.
func NewManual(slot uint64) *Manual {
	m := &Manual{}
	m.slot.Store(slot)
	return m
}

// Set moves the clock to slot.
func (m *Manual) Set(slot uint64) { m.slot.Store(slot) }

// Advance moves the clock forward by n slots.
func (m *Manual) Advance(n uint64) { m.slot.Add(n) }

// Slot implements domain.Clock.
func (m *Manual) Slot(context.Context) (uint64, error) { return m.slot.Load(), nil }
