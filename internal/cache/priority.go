package cache

import (
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/terra/quadtree"
)

// Slot is one occupied position of a PriorityCache.
type Slot[K comparable, V any] struct {
	Key      K
	Priority quadtree.Priority
	Value    V
}

// PriorityCache is a fixed-capacity slot table ranked by priority.
//
// Slot occupancy only changes inside LoadMissing: between two calls the
// slot index of a key is stable, which lets callers use it as an index
// into GPU resources.
//
// PriorityCache is not safe for concurrent use.
type PriorityCache[K comparable, V any] struct {
	size        int
	slots       []Slot[K, V]
	reverse     map[K]int
	missing     []Slot[K, V]
	missingSet  map[K]struct{}
	minPriority quadtree.Priority
}

// NewPriority creates a cache holding at most size entries.
func NewPriority[K comparable, V any](size int) *PriorityCache[K, V] {
	if size <= 0 {
		panic(fmt.Sprintf("cache: priority cache size %d must be positive", size))
	}
	return &PriorityCache[K, V]{
		size:        size,
		slots:       make([]Slot[K, V], 0, size),
		reverse:     make(map[K]int, size),
		missingSet:  make(map[K]struct{}),
		minPriority: quadtree.Priority(math.Inf(1)),
	}
}

// UpdatePriorities recomputes the priority of every resident entry and the
// minimum resident priority.
func (c *PriorityCache[K, V]) UpdatePriorities(priority func(K) quadtree.Priority) {
	c.minPriority = quadtree.Priority(math.Inf(1))
	for i := range c.slots {
		p := priority(c.slots[i].Key)
		c.slots[i].Priority = p
		if p < c.minPriority {
			c.minPriority = p
		}
	}
}

// AddMissing records key as a candidate for the next LoadMissing. The
// candidate is ignored when it is already resident or queued, or when the
// cache is full and priority does not beat the current minimum.
func (c *PriorityCache[K, V]) AddMissing(key K, priority quadtree.Priority) bool {
	if _, ok := c.reverse[key]; ok {
		return false
	}
	if _, ok := c.missingSet[key]; ok {
		return false
	}
	if len(c.slots) >= c.size && priority <= c.minPriority {
		return false
	}
	c.missing = append(c.missing, Slot[K, V]{Key: key, Priority: priority})
	c.missingSet[key] = struct{}{}
	return true
}

// LoadMissing merges the missing candidates with the residents and keeps
// the size highest priorities. Evicted slots are reused by new entries,
// whose values are created by newValue. It returns the evicted keys.
//
// Ties are broken in favour of residents, then in insertion order.
func (c *PriorityCache[K, V]) LoadMissing(newValue func(K) V) []K {
	if len(c.missing) == 0 {
		return nil
	}

	type candidate struct {
		priority quadtree.Priority
		resident bool
		index    int
	}
	candidates := make([]candidate, 0, len(c.slots)+len(c.missing))
	for i := range c.slots {
		candidates = append(candidates, candidate{c.slots[i].Priority, true, i})
	}
	for i := range c.missing {
		candidates = append(candidates, candidate{c.missing[i].Priority, false, i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	keep := min(c.size, len(candidates))
	survivingResident := make([]bool, len(c.slots))
	var admitted []int
	for _, cand := range candidates[:keep] {
		if cand.resident {
			survivingResident[cand.index] = true
		} else {
			admitted = append(admitted, cand.index)
		}
	}

	var evicted []K
	free := make([]int, 0, len(admitted))
	for i, ok := range survivingResident {
		if !ok {
			evicted = append(evicted, c.slots[i].Key)
			delete(c.reverse, c.slots[i].Key)
			free = append(free, i)
		}
	}

	for _, m := range admitted {
		slot := c.missing[m]
		slot.Value = newValue(slot.Key)
		if len(free) > 0 {
			i := free[0]
			free = free[1:]
			c.slots[i] = slot
			c.reverse[slot.Key] = i
		} else {
			c.slots = append(c.slots, slot)
			c.reverse[slot.Key] = len(c.slots) - 1
		}
	}

	c.missing = c.missing[:0]
	clear(c.missingSet)
	c.recomputeMin()
	return evicted
}

func (c *PriorityCache[K, V]) recomputeMin() {
	c.minPriority = quadtree.Priority(math.Inf(1))
	for i := range c.slots {
		c.minPriority = min(c.minPriority, c.slots[i].Priority)
	}
}

// Slot returns the slot index holding key.
func (c *PriorityCache[K, V]) Slot(key K) (int, bool) {
	i, ok := c.reverse[key]
	return i, ok
}

// Contains reports whether key is resident.
func (c *PriorityCache[K, V]) Contains(key K) bool {
	_, ok := c.reverse[key]
	return ok
}

// Entry returns the resident slot for key. The pointer is valid until the
// next LoadMissing.
func (c *PriorityCache[K, V]) Entry(key K) (*Slot[K, V], bool) {
	i, ok := c.reverse[key]
	if !ok {
		return nil, false
	}
	return &c.slots[i], true
}

// At returns the slot at index i.
func (c *PriorityCache[K, V]) At(i int) *Slot[K, V] { return &c.slots[i] }

// Slots returns the occupied slots in slot order. The slice aliases the
// cache storage.
func (c *PriorityCache[K, V]) Slots() []Slot[K, V] { return c.slots }

// MinPriority returns the lowest resident priority, +Inf when empty.
func (c *PriorityCache[K, V]) MinPriority() quadtree.Priority { return c.minPriority }

// Len returns the number of resident entries.
func (c *PriorityCache[K, V]) Len() int { return len(c.slots) }

// Capacity returns the fixed slot count.
func (c *PriorityCache[K, V]) Capacity() int { return c.size }

// Full reports whether every slot is occupied.
func (c *PriorityCache[K, V]) Full() bool { return len(c.slots) >= c.size }

// Stats returns cache statistics.
func (c *PriorityCache[K, V]) Stats() Stats {
	return Stats{
		Len:      len(c.slots),
		Capacity: c.size,
		Missing:  len(c.missing),
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the slot count.
	Capacity int
	// Missing is the number of candidates waiting for LoadMissing.
	Missing int
}
