package sender

import (
	"math"

	"github.com/pkg/errors"

	"github.com/skycoin/rft/pkg/datagram"
)

var (
	// ErrWindowFull is returned when pushing into a full window.
	ErrWindowFull = errors.New("window is full")

	// ErrOutOfWindow is returned when a sequence number outside [base, next) is requested.
	ErrOutOfWindow = errors.New("sequence number outside window")

	// ErrOutOfOrder is returned when a pushed datagram does not carry the next sequence number.
	ErrOutOfOrder = errors.New("datagram is not the next in sequence")

	// ErrSequenceExhausted is returned when no sequence numbers are left for the transfer.
	ErrSequenceExhausted = errors.New("sequence number space exhausted")
)

// Window is a fixed-capacity ring buffer holding the datagrams in flight,
// i.e. sequence numbers in [Base(), Next()). A sequence number maps to slot
// seq % Cap().
type Window struct {
	slots []*datagram.Datagram
	base  uint32 // oldest unacknowledged
	next  uint32 // next to assign
}

// NewWindow creates an empty window of the given capacity whose first
// assigned sequence number is first.
func NewWindow(capacity int, first uint32) *Window {
	if capacity < 1 {
		panic("window capacity must be positive")
	}
	return &Window{
		slots: make([]*datagram.Datagram, capacity),
		base:  first,
		next:  first,
	}
}

// Base returns the oldest unacknowledged sequence number.
func (w *Window) Base() uint32 { return w.base }

// Next returns the sequence number the next pushed datagram must carry.
func (w *Window) Next() uint32 { return w.next }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.slots) }

// Len returns the number of datagrams in flight.
func (w *Window) Len() int { return int(w.next - w.base) }

// Full reports whether no more datagrams may be pushed.
func (w *Window) Full() bool { return w.Len() >= len(w.slots) }

// Empty reports whether every pushed datagram was acknowledged.
func (w *Window) Empty() bool { return w.base == w.next }

// Push stores d, which must carry sequence number Next(), and advances Next().
func (w *Window) Push(d *datagram.Datagram) error {
	switch {
	case w.Full():
		return ErrWindowFull
	case w.next == math.MaxUint32:
		return ErrSequenceExhausted
	case d.SeqNum != w.next:
		return errors.Wrapf(ErrOutOfOrder, "got %d, want %d", d.SeqNum, w.next)
	}
	w.slots[w.slot(w.next)] = d
	w.next++
	return nil
}

// Get returns the buffered datagram for seq.
func (w *Window) Get(seq uint32) (*datagram.Datagram, error) {
	if seq < w.base || seq >= w.next {
		return nil, errors.Wrapf(ErrOutOfWindow, "seq %d, window [%d, %d)", seq, w.base, w.next)
	}
	d := w.slots[w.slot(seq)]
	if d == nil || d.SeqNum != seq {
		// Unreachable while Push and Advance are the only mutators.
		panic(errors.Errorf("window slot for seq %d holds stale datagram", seq))
	}
	return d, nil
}

// Advance moves Base() to newBase, releasing every datagram below it, and
// returns the number released. A newBase that does not lie in (Base(), Next()]
// leaves the window untouched.
func (w *Window) Advance(newBase uint32) int {
	if newBase <= w.base || newBase > w.next {
		return 0
	}
	n := int(newBase - w.base)
	for seq := w.base; seq < newBase; seq++ {
		w.slots[w.slot(seq)] = nil
	}
	w.base = newBase
	return n
}

// Range calls fn for every datagram in flight, oldest first, and stops at the
// first error.
func (w *Window) Range(fn func(d *datagram.Datagram) error) error {
	for seq := w.base; seq < w.next; seq++ {
		d, err := w.Get(seq)
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (w *Window) slot(seq uint32) int {
	return int(seq % uint32(len(w.slots)))
}
