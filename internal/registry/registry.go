// Package registry implements a paged slab allocator handing out stable
// integer ids for shared records. Slots carry their own mutex so concurrent
// workers can mutate independent entries without a global lock; the
// registry-wide mutex only guards the free-list and page allocation.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	pageBits = 8

	// PageSize is the number of slots per lazily allocated page.
	PageSize = 1 << pageBits

	// MaxPages bounds the slab; ids range over [0, Capacity).
	MaxPages = 1 << 10

	// Capacity is the total number of addressable slots.
	Capacity = PageSize * MaxPages
)

// ErrFull is returned by Add when every id is in use.
var ErrFull = errors.New("registry full")

// Slot is one cell of a registry. The value pointer is guarded by the slot
// mutex; the free-list fields are guarded by the registry mutex, so Release
// may be called while the slot lock is held.
type Slot[T any] struct {
	mu  sync.Mutex
	val *T

	nextFree int32
	free     bool
}

// Lock acquires the slot. Callers hold it while reading or mutating the
// value and must release it before any network I/O or channel hand-off.
func (s *Slot[T]) Lock() { s.mu.Lock() }

// Unlock releases the slot.
func (s *Slot[T]) Unlock() { s.mu.Unlock() }

// Value returns the stored pointer; nil means the slot is unoccupied.
// Callers must hold the slot lock.
func (s *Slot[T]) Value() *T { return s.val }

// Set replaces the stored pointer. Callers must hold the slot lock. A record
// being destroyed is cleared with Set(nil) before Release, so a concurrent
// Slot+Lock observes the absence rather than a stale value.
func (s *Slot[T]) Set(v *T) { s.val = v }

type page[T any] struct {
	slots [PageSize]Slot[T]
}

// Registry is a paged slab of slots. Released ids are reused in LIFO order;
// fresh ids grow upward from zero. Pages are allocated on first touch and
// never freed.
type Registry[T any] struct {
	mu       sync.Mutex
	pages    [MaxPages]atomic.Pointer[page[T]]
	freeHead int32
	freeLen  int
	next     uint32 // smallest id never handed out
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{freeHead: -1}
}

// Add stores v and returns its id: the most recently released id if any,
// otherwise the smallest never-used one.
func (r *Registry[T]) Add(v *T) (uint32, error) {
	r.mu.Lock()
	var id uint32
	if r.freeHead >= 0 {
		id = uint32(r.freeHead)
		s := r.slotLocked(id)
		r.freeHead = s.nextFree
		r.freeLen--
		s.free = false
	} else {
		if r.next >= Capacity {
			r.mu.Unlock()
			return 0, ErrFull
		}
		id = r.next
		r.next++
	}
	s := r.slotLocked(id)
	r.mu.Unlock()

	s.Lock()
	s.val = v
	s.Unlock()
	return id, nil
}

// Slot returns the slot for id, lazily allocating its page. It does not
// lock the slot; a never-used or released id yields a slot with a nil value.
func (r *Registry[T]) Slot(id uint32) (*Slot[T], error) {
	if id >= Capacity {
		return nil, fmt.Errorf("slot %d out of range", id)
	}
	n := id >> pageBits
	pg := r.pages[n].Load()
	if pg == nil {
		r.mu.Lock()
		pg = r.pageLocked(n)
		r.mu.Unlock()
	}
	return &pg.slots[id&(PageSize-1)], nil
}

// Release pushes id back onto the free-list. Idempotent: releasing an id
// that is already free, never used, or out of range is a no-op. Callers that
// destroy the payload clear the slot value first.
func (r *Registry[T]) Release(id uint32) {
	if id >= Capacity {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= r.next {
		return
	}
	s := r.slotLocked(id)
	if s.free {
		return
	}
	s.nextFree = r.freeHead
	s.free = true
	r.freeHead = int32(id)
	r.freeLen++
}

// Occupied reports how many ids are currently held.
func (r *Registry[T]) Occupied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.next) - r.freeLen
}

// pageLocked returns page n, allocating it on first touch. Callers hold the
// registry mutex; readers outside it go through the atomic pointer.
func (r *Registry[T]) pageLocked(n uint32) *page[T] {
	pg := r.pages[n].Load()
	if pg == nil {
		pg = new(page[T])
		r.pages[n].Store(pg)
	}
	return pg
}

func (r *Registry[T]) slotLocked(id uint32) *Slot[T] {
	return &r.pageLocked(id >> pageBits).slots[id&(PageSize-1)]
}
