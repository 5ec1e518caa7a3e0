// Package ordering assigns sparse integer position keys to the stops of a
// route. Keys are spaced by a fixed gap so that most insertions land between
// two neighbours without rewriting any existing row; when a gap is exhausted
// the smallest enclosing window (or, at worst, the whole sequence) is
// respaced. Everything here is pure: callers persist the results.
package ordering

import (
	"errors"
	"fmt"
	"sort"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
)

// DefaultGap is the spacing between consecutive keys after a rebalance.
const DefaultGap = 1000

var (
	// ErrAnchorNotFound is returned when the "insert after" key is not one of
	// the existing keys.
	ErrAnchorNotFound = errors.New("ordering: anchor key not found")
	// ErrInvalidKeys is returned when the existing keys are not strictly
	// increasing positive integers.
	ErrInvalidKeys = errors.New("ordering: existing keys must be strictly increasing and positive")
)

// Calculator computes position keys with a fixed Gap.
type Calculator struct {
	Gap int
}

// New returns a Calculator with the given gap, falling back to DefaultGap for
// values below 2.
func New(gap int) Calculator {
	if gap < 2 {
		gap = DefaultGap
	}
	return Calculator{Gap: gap}
}

func (c Calculator) gap() int {
	if c.Gap < 2 {
		return DefaultGap
	}
	return c.Gap
}

// Placement is the outcome of positioning new items in an existing sequence.
type Placement struct {
	// Keys holds one key per new item, in insertion order.
	Keys []int
	// Moved maps an index into the existing sequence to its new key. Empty
	// unless the insertion forced a rebalance.
	Moved map[int]int
}

// Rebalanced reports whether any existing key had to change.
func (p Placement) Rebalanced() bool { return len(p.Moved) > 0 }

// Place computes keys for n new items inserted immediately after the key
// after (or at the head when after is nil). existing must be the full,
// strictly increasing key sequence of the route.
func (c Calculator) Place(existing []int, after *int, n int) (Placement, error) {
	if err := Validate(existing); err != nil {
		return Placement{}, err
	}
	if n <= 0 {
		return Placement{}, nil
	}

	pos := 0
	if after != nil {
		pos = sort.SearchInts(existing, *after)
		if pos == len(existing) || existing[pos] != *after {
			return Placement{}, fmt.Errorf("%w: %d", ErrAnchorNotFound, *after)
		}
		pos++
	}

	lower := 0
	if pos > 0 {
		lower = existing[pos-1]
	}

	// Appending at the tail always has room.
	if pos == len(existing) {
		return Placement{Keys: spaced(lower, c.gap(), n)}, nil
	}

	upper := existing[pos]
	if step := (upper - lower) / (n + 1); step >= 1 {
		return Placement{Keys: spaced(lower, step, n)}, nil
	}

	return c.rebalanceWindow(existing, pos, n), nil
}

// rebalanceWindow widens the window around pos until its bounds leave at least
// one full gap between every pair of keys, then respaces the window evenly.
// The window always fits once it reaches the tail, because the tail is
// unbounded.
func (c Calculator) rebalanceWindow(existing []int, pos, n int) Placement {
	g := c.gap()
	left, right := pos, pos
	growRight := true

	for {
		lower := 0
		if left > 0 {
			lower = existing[left-1]
		}
		count := (right - left) + n

		var step int
		if right == len(existing) {
			step = g
		} else if span := existing[right] - lower; span/(count+1) >= g {
			step = span / (count + 1)
		}

		if step > 0 {
			p := Placement{Keys: make([]int, 0, n), Moved: make(map[int]int)}
			slot := 1
			for i := left; i < pos; i++ {
				if k := lower + step*slot; k != existing[i] {
					p.Moved[i] = k
				}
				slot++
			}
			for i := 0; i < n; i++ {
				p.Keys = append(p.Keys, lower+step*slot)
				slot++
			}
			for i := pos; i < right; i++ {
				if k := lower + step*slot; k != existing[i] {
					p.Moved[i] = k
				}
				slot++
			}
			return p
		}

		switch {
		case growRight && right < len(existing):
			right++
		case left > 0:
			left--
		default:
			right++
		}
		growRight = !growRight
	}
}

// Spread returns n keys evenly spaced by the gap, starting at one gap.
func (c Calculator) Spread(n int) []int {
	return spaced(0, c.gap(), n)
}

// Renumber returns a copy of stops, in the given order, with keys respaced
// from one gap upward.
func (c Calculator) Renumber(stops []models.RouteStop) []models.RouteStop {
	out := make([]models.RouteStop, len(stops))
	copy(out, stops)
	for i, k := range c.Spread(len(out)) {
		out[i].StopOrder = k
	}
	return out
}

// Rebalance returns a copy of stops sorted by their current key (ties keep
// their relative order) and respaced from one gap upward.
func (c Calculator) Rebalance(stops []models.RouteStop) []models.RouteStop {
	out := make([]models.RouteStop, len(stops))
	copy(out, stops)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StopOrder < out[j].StopOrder })
	return c.Renumber(out)
}

// Validate checks that keys are positive and strictly increasing.
func Validate(keys []int) error {
	prev := 0
	for i, k := range keys {
		if k <= prev {
			return fmt.Errorf("%w (index %d, key %d)", ErrInvalidKeys, i, k)
		}
		prev = k
	}
	return nil
}

func spaced(from, step, n int) []int {
	keys := make([]int, n)
	for i := range keys {
		keys[i] = from + step*(i+1)
	}
	return keys
}
