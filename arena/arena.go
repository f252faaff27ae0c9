// Package arena implements a bump-style scoped allocator with
// destructor-ordered rewind, the VM's memory discipline for
// interpreter-owned temporaries that must not outlive a call scope.
package arena

import (
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// destructor is a thunk registered alongside an allocation. It runs when
// the arena rewinds past the point it was registered at.
type destructor func() error

// Arena is a bump allocator: Allocate hands out byte storage from a
// growing buffer, and Emplace additionally registers a destructor that
// runs, in reverse registration order, when the arena rewinds past it.
//
// An Arena is not safe for concurrent use; it is owned by a single VM.
type Arena struct {
	buf          []byte
	used         int
	destructors  []destructor
	logger       zerolog.Logger
}

// New creates an Arena with an initial backing buffer of capacity bytes.
// capacity is a hint; the arena grows as needed.
func New(capacity int) *Arena {
	return &Arena{buf: make([]byte, 0, capacity)}
}

// WithLogger sets l as the arena's logger for diagnostic logging of rewind
// failures and returns the same arena, for chaining. Arenas are normally constructed by vm.New,
// which wires this automatically via vm.WithLogger.
func (a *Arena) WithLogger(l zerolog.Logger) *Arena {
	a.logger = l
	return a
}

// Allocate returns size bytes of zeroed storage aligned to align (align
// must be a power of two). The returned slice is only valid until the
// next Reset or rewind that rewinds past it.
func (a *Arena) Allocate(size, align int) []byte {
	if align < 1 {
		align = 1
	}
	padding := (-a.used) & (align - 1)
	needed := a.used + padding + size
	if needed > cap(a.buf) {
		grown := make([]byte, len(a.buf), growCapacity(cap(a.buf), needed))
		copy(grown, a.buf)
		a.buf = grown
	}
	a.buf = a.buf[:needed]
	for i := a.used; i < needed; i++ {
		a.buf[i] = 0
	}
	start := a.used + padding
	a.used = needed
	return a.buf[start:needed]
}

func growCapacity(current, needed int) int {
	if current == 0 {
		current = 64
	}
	for current < needed {
		current *= 2
	}
	return current
}

// Emplace allocates storage for a value of type T-shaped size and
// registers destructor d to run on rewind. It returns the allocated
// storage; the destructor takes its place at the end of the LIFO rewind
// order.
func (a *Arena) Emplace(size, align int, d func() error) []byte {
	mem := a.Allocate(size, align)
	a.destructors = append(a.destructors, d)
	return mem
}

// LiveAllocations reports how many registered destructors are still
// pending (i.e. have not yet run via Reset or a Marker rewind).
func (a *Arena) LiveAllocations() int {
	return len(a.destructors)
}

// Reset rewinds the arena to empty, running every registered destructor in
// reverse order, and truncates the buffer to zero length. The backing
// buffer keeps its current capacity: growth buffers are not released.
// Destructor errors are
// aggregated with go-multierror rather than stopping at the first failure,
// per the arena's LIFO-rewind contract: all pending destructors run
// regardless of individual failures.
func (a *Arena) Reset() error {
	err := a.rewindTo(0, 0)
	a.buf = a.buf[:0]
	return err
}

// Marker is a scoped guard returned by Mark. Deferring marker.Rewind()
// (or letting a defer call it implicitly via a helper) restores the arena
// to the state it had when the marker was taken, running every destructor
// registered since then in reverse order. Release cancels the rewind.
type Marker struct {
	arena      *Arena
	used       int
	destructor int
	released   bool
}

// Mark captures the arena's current allocation position. The caller is
// expected to pair it with a deferred call to Rewind, matching the
// guard-object idiom: `m := arena.Mark(); defer m.Rewind()`.
func (a *Arena) Mark() *Marker {
	return &Marker{arena: a, used: a.used, destructor: len(a.destructors)}
}

// Release disarms the marker: a subsequent Rewind call becomes a no-op.
// Use this when the scope completed successfully and ownership of
// everything allocated since the marker transfers to an enclosing scope.
func (m *Marker) Release() {
	m.released = true
}

// Rewind runs every destructor registered since the marker was taken, in
// reverse registration order, then truncates the arena back to the
// marker's allocation position. It is a no-op if Release was already
// called. Destructor failures are aggregated and returned together; every
// destructor still runs even if an earlier one in the same rewind failed.
func (m *Marker) Rewind() error {
	if m.released {
		return nil
	}
	return m.arena.rewindTo(m.used, m.destructor)
}

func (a *Arena) rewindTo(used, destructorFloor int) error {
	var result *multierror.Error
	for i := len(a.destructors) - 1; i >= destructorFloor; i-- {
		d := a.destructors[i]
		if d == nil {
			continue
		}
		if err := d(); err != nil {
			result = multierror.Append(result, err)
			a.logger.Warn().Err(err).Int("destructor_index", i).
				Msg("arena: destructor failed during rewind")
		}
	}
	a.destructors = a.destructors[:destructorFloor]
	a.used = used
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}
