// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package arena

import (
	"sync/atomic"
	"unsafe"
)

// Slot size classes.
const (
	SmallSlotSize  = 256
	MediumSlotSize = 4096
	LargeSlotSize  = 65536
)

// slotAlign is the alignment every slot guarantees.
const slotAlign = 8

// slot is a fixed-capacity, 8-byte aligned buffer lent out as a loan.
type slot struct {
	words []uint64 // backing store, keeps alignment
	buf   []byte   // byte view over words, full capacity
}

func newSlot(capacity int) *slot {
	words := make([]uint64, (capacity+slotAlign-1)/slotAlign)
	return &slot{
		words: words,
		buf:   unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*slotAlign),
	}
}

// take returns the first size bytes of the slot, zeroed.
func (s *slot) take(size int) []byte {
	b := s.buf[:size]
	clear(b)
	return b
}

// slotPool keeps free slots in per-class lists. Slots that do not fit in a
// full list are left to the garbage collector.
type slotPool struct {
	small  chan *slot
	medium chan *slot
	large  chan *slot

	stats SlotStats
}

// SlotStats tracks slot reuse.
type SlotStats struct {
	SmallHits    atomic.Uint64
	MediumHits   atomic.Uint64
	LargeHits    atomic.Uint64
	SmallMisses  atomic.Uint64
	MediumMisses atomic.Uint64
	LargeMisses  atomic.Uint64
}

func newSlotPool(freePerClass int) *slotPool {
	return &slotPool{
		small:  make(chan *slot, freePerClass),
		medium: make(chan *slot, freePerClass),
		large:  make(chan *slot, freePerClass),
	}
}

// classFor returns the free list and capacity for size, or a nil list when
// size is larger than the largest class.
func (p *slotPool) classFor(size int) (chan *slot, int, *atomic.Uint64, *atomic.Uint64) {
	switch {
	case size <= SmallSlotSize:
		return p.small, SmallSlotSize, &p.stats.SmallHits, &p.stats.SmallMisses
	case size <= MediumSlotSize:
		return p.medium, MediumSlotSize, &p.stats.MediumHits, &p.stats.MediumMisses
	case size <= LargeSlotSize:
		return p.large, LargeSlotSize, &p.stats.LargeHits, &p.stats.LargeMisses
	default:
		return nil, 0, nil, nil
	}
}

// get returns a slot able to hold size bytes, or nil if size is too large.
func (p *slotPool) get(size int) *slot {
	list, capacity, hits, misses := p.classFor(size)
	if list == nil {
		return nil
	}

	select {
	case s := <-list:
		hits.Add(1)
		return s
	default:
		misses.Add(1)
		return newSlot(capacity)
	}
}

func (p *slotPool) put(s *slot) {
	list, capacity, _, _ := p.classFor(len(s.buf))
	if list == nil || len(s.buf) != capacity {
		return
	}

	select {
	case list <- s:
	default:
	}
}
