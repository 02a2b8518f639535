// Package cache implements the tag-partitioned shared LRU cache (spec
// component C3, SharedCache) and the block buffer + flusher built on top of
// it (spec component C4). The generic SharedCache[K, V] is grounded on the
// Lookup/Flush/Inval/hold-release contract sketched (but never implemented)
// by the teacher's itemcache design, generalized to Go generics; slot
// pin/unpin bookkeeping is adapted from the teacher's refcntpool
// Hold/Release/AssertIsHeld pattern, with a tag partition's LRU tail acting
// as the slot's "pool" instead of a free list.
package cache

import (
	"container/list"
	"fmt"

	"github.com/NVIDIA/ufssched/halter"
	"github.com/NVIDIA/ufssched/tag"
)

// Slot is one fixed-size cache entry: a value plus the bookkeeping needed to
// place it in a tag partition's LRU and to pin it against eviction.
type Slot[K comparable, V any] struct {
	tag   tag.Tag
	key   K
	Value V

	pinCount int32
	elem     *list.Element // back-pointer into its partition's LRU list
}

// Hold pins the slot, preventing eviction. Mirrors refcntpool.RefCntItem.Hold.
func (s *Slot[K, V]) Hold() {
	s.pinCount++
}

// Release unpins the slot. Mirrors refcntpool.RefCntItem.Release.
func (s *Slot[K, V]) Release() {
	if s.pinCount <= 0 {
		panic(fmt.Sprintf("cache.Slot.Release(): slot for key %v was not held", s.key))
	}
	s.pinCount--
}

// AssertIsHeld panics if the slot is not currently pinned.
func (s *Slot[K, V]) AssertIsHeld() {
	if s.pinCount < 1 {
		panic(fmt.Sprintf("cache.Slot.AssertIsHeld(): pinCount %d < 1 for key %v", s.pinCount, s.key))
	}
}

// IsPinned reports whether the slot currently has any holds.
func (s *Slot[K, V]) IsPinned() bool {
	return s.pinCount > 0
}

type partition[K comparable, V any] struct {
	capacity uint64
	lru      *list.List // of *Slot[K,V], front = most-recently-used
	index    map[K]*list.Element
}

func newPartition[K comparable, V any](capacity uint64) *partition[K, V] {
	return &partition[K, V]{
		capacity: capacity,
		lru:      list.New(),
		index:    make(map[K]*list.Element),
	}
}

// SharedCache is a fixed pool of N slots partitioned by tag.Tag, each
// partition an independent LRU with its own capacity and hash index. There
// is no internal locking: per spec §5 concurrency model, a SharedCache has a
// single owning worker and is only touched cross-worker during a drained
// migration handoff.
type SharedCache[K comparable, V any] struct {
	poolCapacity uint64
	partitions   map[tag.Tag]*partition[K, V]
	newValue     func() V
}

// NewSharedCache creates a SharedCache with the given total pool capacity
// (in slots). All capacity starts in the UNALLOC partition. newValue
// allocates the zero-value payload for a freshly reused slot (e.g. a
// fixed-size byte buffer).
func NewSharedCache[K comparable, V any](poolCapacity uint64, newValue func() V) *SharedCache[K, V] {
	c := &SharedCache[K, V]{
		poolCapacity: poolCapacity,
		partitions:   make(map[tag.Tag]*partition[K, V]),
		newValue:     newValue,
	}
	c.partitions[tag.UnallocTag] = newPartition[K, V](poolCapacity)
	return c
}

func (c *SharedCache[K, V]) partitionFor(t tag.Tag) *partition[K, V] {
	p, ok := c.partitions[t]
	if !ok {
		p = newPartition[K, V](0)
		c.partitions[t] = p
	}
	return p
}

// CapacityOf returns the configured capacity of a tag's partition.
func (c *SharedCache[K, V]) CapacityOf(t tag.Tag) uint64 {
	return c.partitionFor(t).capacity
}

// SizeOf returns the current occupancy of a tag's partition.
func (c *SharedCache[K, V]) SizeOf(t tag.Tag) uint64 {
	return uint64(c.partitionFor(t).lru.Len())
}

// PoolCapacity returns the total number of slots in the cache.
func (c *SharedCache[K, V]) PoolCapacity() uint64 {
	return c.poolCapacity
}

// Lookup touches and returns the slot for (tag, key) if present, pinning it
// if requested. It never creates a new entry.
func (c *SharedCache[K, V]) Lookup(t tag.Tag, key K, pin bool) *Slot[K, V] {
	p := c.partitionFor(t)
	elem, ok := p.index[key]
	if !ok {
		return nil
	}
	p.lru.MoveToFront(elem)
	slot := elem.Value.(*Slot[K, V])
	if pin {
		slot.Hold()
	}
	return slot
}

// Insert adds a new slot for (tag, key). If the partition is at capacity, it
// evicts the least-recently-used unpinned slot and reuses its storage. It
// returns nil if the partition is at capacity and every slot is pinned.
// hintNonexist lets the caller assert there was no prior Lookup miss race;
// it is accepted for contract-fidelity with the original API and otherwise
// unused since this cache has a single owner.
func (c *SharedCache[K, V]) Insert(t tag.Tag, key K, pin bool, hintNonexist bool) *Slot[K, V] {
	p := c.partitionFor(t)

	if uint64(p.lru.Len()) >= p.capacity {
		evicted := c.evictFrom(p)
		if evicted == nil {
			halter.Trigger(halter.CacheInsertExhausted)
			return nil
		}
		return c.bind(p, t, key, evicted, pin)
	}

	slot := &Slot[K, V]{tag: t, key: key, Value: c.newValue()}
	return c.bind(p, t, key, slot, pin)
}

func (c *SharedCache[K, V]) bind(p *partition[K, V], t tag.Tag, key K, slot *Slot[K, V], pin bool) *Slot[K, V] {
	slot.tag = t
	slot.key = key
	slot.pinCount = 0
	if pin {
		slot.Hold()
	}
	elem := p.lru.PushFront(slot)
	slot.elem = elem
	p.index[key] = elem
	return slot
}

// evictFrom removes and returns the least-recently-used unpinned slot in p,
// or nil if every slot is pinned.
func (c *SharedCache[K, V]) evictFrom(p *partition[K, V]) *Slot[K, V] {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		slot := e.Value.(*Slot[K, V])
		if slot.IsPinned() {
			continue
		}
		p.lru.Remove(e)
		delete(p.index, slot.key)
		return slot
	}
	return nil
}

// Erase removes the slot for (tag, key) from the cache. It fails (returns
// false) if the slot is pinned.
func (c *SharedCache[K, V]) Erase(t tag.Tag, key K) bool {
	p := c.partitionFor(t)
	elem, ok := p.index[key]
	if !ok {
		return false
	}
	slot := elem.Value.(*Slot[K, V])
	if slot.IsPinned() {
		return false
	}
	p.lru.Remove(elem)
	delete(p.index, key)
	return true
}

// Relocate moves up to n unpinned slots from src's LRU tail into dst,
// growing dst's capacity and shrinking src's by the number actually moved.
// It returns the number of slots actually relocated, which may be fewer than
// n if src has nothing evictable right now.
func (c *SharedCache[K, V]) Relocate(src, dst tag.Tag, n uint64) uint64 {
	srcP := c.partitionFor(src)
	dstP := c.partitionFor(dst)

	var moved uint64
	for moved < n {
		e := srcP.lru.Back()
		var chosen *list.Element
		for ; e != nil; e = e.Prev() {
			if !e.Value.(*Slot[K, V]).IsPinned() {
				chosen = e
				break
			}
		}
		if chosen == nil {
			break
		}
		slot := chosen.Value.(*Slot[K, V])
		srcP.lru.Remove(chosen)
		delete(srcP.index, slot.key)
		srcP.capacity--

		dstP.capacity++
		// Relocated slots carry no identity until the caller re-binds them
		// via Insert/Install; drop them from dst's index, they only occupy capacity.
		moved++
	}
	return moved
}

// ForEach calls fn for every slot currently held by tag t, in LRU order
// (most-recently-used first). fn returning false stops the iteration.
func (c *SharedCache[K, V]) ForEach(t tag.Tag, fn func(*Slot[K, V]) bool) {
	p := c.partitionFor(t)
	for e := p.lru.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*Slot[K, V])) {
			return
		}
	}
}
