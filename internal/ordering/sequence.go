// Package ordering keeps items of a scope in exactly one integer slot each, 1..N.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicatePosition means two items of one scope share a slot. It is an
	// internal-consistency failure and must not be retried.
	ErrDuplicatePosition = errors.New("duplicate position in scope")
	ErrScopeNotEmpty     = errors.New("scope already has items")
	ErrUnknownDirection  = errors.New("unknown direction")
)

// Slot is anything holding a position inside a scope.
type Slot interface {
	SlotID() string
	SlotPosition() int
}

type Direction int

const (
	Left  Direction = -1
	Right Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, value)
	}
}

// Sequence is a snapshot of one scope's items sorted by position.
type Sequence[T Slot] struct {
	items []T
}

// New sorts items by position and rejects duplicate slots.
func New[T Slot](items []T) (Sequence[T], error) {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SlotPosition() < sorted[j].SlotPosition()
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].SlotPosition() == sorted[i-1].SlotPosition() {
			return Sequence[T]{}, fmt.Errorf("%w: %s and %s at %d", ErrDuplicatePosition,
				sorted[i-1].SlotID(), sorted[i].SlotID(), sorted[i].SlotPosition())
		}
	}
	return Sequence[T]{items: sorted}, nil
}

func (s Sequence[T]) Len() int { return len(s.items) }

func (s Sequence[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

func (s Sequence[T]) Index(id string) int {
	for i, item := range s.items {
		if item.SlotID() == id {
			return i
		}
	}
	return -1
}

// Neighbor returns the item with the next lower (Left) or next higher (Right)
// position. ok is false when id is already at that extremum or not in the scope.
func (s Sequence[T]) Neighbor(id string, dir Direction) (neighbor T, ok bool) {
	idx := s.Index(id)
	if idx < 0 {
		return neighbor, false
	}
	next := idx + int(dir)
	if next < 0 || next >= len(s.items) {
		return neighbor, false
	}
	return s.items[next], true
}

// NextPosition is the slot after the current maximum, or 1 for an empty scope.
func (s Sequence[T]) NextPosition() int {
	if len(s.items) == 0 {
		return 1
	}
	return s.items[len(s.items)-1].SlotPosition() + 1
}

// Dense reports whether positions run 1..N without gaps.
func (s Sequence[T]) Dense() bool {
	for i, item := range s.items {
		if item.SlotPosition() != i+1 {
			return false
		}
	}
	return true
}

// Positioner persists a position change for one item.
type Positioner interface {
	SetPosition(ctx context.Context, id string, position int) error
}

// PositionerFunc adapts a function to Positioner.
type PositionerFunc func(ctx context.Context, id string, position int) error

func (f PositionerFunc) SetPosition(ctx context.Context, id string, position int) error {
	return f(ctx, id, position)
}

// sentinel is a slot no valid item can hold. Deriving it from the staged item
// keeps it distinct per item.
func sentinel(position int) int {
	if position > 0 {
		return -position
	}
	return position - 1
}

// Swap exchanges the positions of a and b. a is parked on a negative sentinel
// first so the scope never holds two items in one slot. Run it inside the
// scope's transaction or lock; the sentinel must not be observable.
func Swap[T Slot](ctx context.Context, p Positioner, a, b T) error {
	posA, posB := a.SlotPosition(), b.SlotPosition()
	if a.SlotID() == b.SlotID() || posA == posB {
		return nil
	}
	if err := p.SetPosition(ctx, a.SlotID(), sentinel(posA)); err != nil {
		return fmt.Errorf("stage %s: %w", a.SlotID(), err)
	}
	if err := p.SetPosition(ctx, b.SlotID(), posA); err != nil {
		return fmt.Errorf("move %s: %w", b.SlotID(), err)
	}
	if err := p.SetPosition(ctx, a.SlotID(), posB); err != nil {
		return fmt.Errorf("move %s: %w", a.SlotID(), err)
	}
	return nil
}

// Compact rewrites positions to 1..N, preserving order. Items are visited in
// ascending order, so every target slot is already free. Returns the number of
// items moved.
func Compact[T Slot](ctx context.Context, p Positioner, s Sequence[T]) (int, error) {
	moved := 0
	for i, item := range s.items {
		want := i + 1
		if item.SlotPosition() == want {
			continue
		}
		if err := p.SetPosition(ctx, item.SlotID(), want); err != nil {
			return moved, fmt.Errorf("compact %s: %w", item.SlotID(), err)
		}
		moved++
	}
	return moved, nil
}

// Reseed fills an empty scope with names at positions 1..N.
func Reseed[T Slot](ctx context.Context, s Sequence[T], create func(ctx context.Context, name string, position int) error, names ...string) error {
	if s.Len() > 0 {
		return ErrScopeNotEmpty
	}
	for i, name := range names {
		if err := create(ctx, name, i+1); err != nil {
			return fmt.Errorf("seed %q: %w", name, err)
		}
	}
	return nil
}
