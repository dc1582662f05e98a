package service

import (
	"container/list"
	"sync"
	"time"
)

// Deduper remembers artifact names the consumer has finished with.
type Deduper interface {
	Seen(name string) bool
	Mark(name string)
	Len() int
}

// MemoryDeduper is a bounded set with per-entry TTL. The oldest entry is
// evicted once max is reached. State is lost on restart; the ledger's unique
// artifact key absorbs the re-deliveries that follow.
type MemoryDeduper struct {
	ttl   time.Duration
	max   int
	clock Clock

	mu      sync.Mutex
	order   *list.List // of *dedupEntry, oldest first
	entries map[string]*list.Element
}

type dedupEntry struct {
	name string
	at   time.Time
}

// NewMemoryDeduper builds a set. ttl <= 0 disables expiry, max <= 0 disables
// the bound.
func NewMemoryDeduper(ttl time.Duration, max int, clock Clock) *MemoryDeduper {
	if clock == nil {
		clock = RealClock{}
	}
	return &MemoryDeduper{
		ttl:     ttl,
		max:     max,
		clock:   clock,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (d *MemoryDeduper) Seen(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.entries[name]
	if !ok {
		return false
	}
	if d.expired(el.Value.(*dedupEntry), d.clock.Now()) {
		d.remove(el)
		return false
	}
	return true
}

func (d *MemoryDeduper) Mark(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.evictExpired(now)

	if el, ok := d.entries[name]; ok {
		el.Value.(*dedupEntry).at = now
		d.order.MoveToBack(el)
		return
	}
	for d.max > 0 && d.order.Len() >= d.max {
		d.remove(d.order.Front())
	}
	d.entries[name] = d.order.PushBack(&dedupEntry{name: name, at: now})
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func (d *MemoryDeduper) expired(e *dedupEntry, now time.Time) bool {
	return d.ttl > 0 && now.Sub(e.at) >= d.ttl
}

// evictExpired drops entries from the front while they are expired. Entries
// are ordered by mark time, so the first live one ends the scan.
func (d *MemoryDeduper) evictExpired(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if !d.expired(el.Value.(*dedupEntry), now) {
			return
		}
		d.remove(el)
	}
}

func (d *MemoryDeduper) remove(el *list.Element) {
	delete(d.entries, el.Value.(*dedupEntry).name)
	d.order.Remove(el)
}
