package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// memoryTier is the in-process LRU tier. It is the only tier consulted when
// Redis and disk are unavailable, so it must stay correct on its own:
// expired entries are dropped on read, size is bounded by evicting the least
// recently used entry.
type memoryTier struct {
	mu      sync.Mutex
	max     int
	order   *list.List // front = most recently used; values are *Entry
	byKey   map[string]*list.Element
	onEvict func(Entry) // spill hook, set by the owning Tiered
}

func newMemoryTier(max int) *memoryTier {
	if max <= 0 {
		max = 1024
	}
	return &memoryTier{
		max:   max,
		order: list.New(),
		byKey: make(map[string]*list.Element),
	}
}

func (t *memoryTier) get(key string, now time.Time) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.byKey[key]
	if !ok {
		return Entry{}, false
	}
	e := el.Value.(*Entry)
	if e.expired(now) {
		t.order.Remove(el)
		delete(t.byKey, key)
		return Entry{}, false
	}
	t.order.MoveToFront(el)
	return *e, true
}

func (t *memoryTier) set(e Entry) {
	t.mu.Lock()

	if el, ok := t.byKey[e.Key]; ok {
		*el.Value.(*Entry) = e
		t.order.MoveToFront(el)
		t.mu.Unlock()
		return
	}

	el := t.order.PushFront(&e)
	t.byKey[e.Key] = el

	var evicted *Entry
	if t.order.Len() > t.max {
		oldest := t.order.Back()
		t.order.Remove(oldest)
		ev := oldest.Value.(*Entry)
		delete(t.byKey, ev.Key)
		evicted = ev
	}
	onEvict := t.onEvict
	t.mu.Unlock()

	// Spill outside the lock; the disk tier takes its own locks.
	if evicted != nil && onEvict != nil && !evicted.expired(time.Now()) {
		onEvict(*evicted)
	}
}

func (t *memoryTier) invalidatePrefix(prefix string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, el := range t.byKey {
		if strings.HasPrefix(key, prefix) {
			t.order.Remove(el)
			delete(t.byKey, key)
		}
	}
}

func (t *memoryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
