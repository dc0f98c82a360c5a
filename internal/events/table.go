package events

import "sync/atomic"

// entry is one registered handler.
type entry[H any] struct {
	id      string
	handler H
}

type entryMap[K comparable, H any] map[K][]entry[H]

// table is a copy-on-write map of ordered handler lists. Readers take a
// lock-free snapshot; writers retry on CAS failure.
type table[K comparable, H any] struct {
	entries atomic.Pointer[entryMap[K, H]]
}

func newTable[K comparable, H any]() *table[K, H] {
	t := &table[K, H]{}
	empty := make(entryMap[K, H])
	t.entries.Store(&empty)
	return t
}

func (t *table[K, H]) add(key K, e entry[H]) {
	for {
		old := t.entries.Load()
		next := t.copy(*old)
		next[key] = append(next[key], e)
		if t.entries.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (t *table[K, H]) remove(key K, id string) bool {
	for {
		old := t.entries.Load()
		list, ok := (*old)[key]
		if !ok {
			return false
		}
		idx := -1
		for i, e := range list {
			if e.id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}

		next := t.copy(*old)
		trimmed := make([]entry[H], 0, len(list)-1)
		trimmed = append(trimmed, list[:idx]...)
		trimmed = append(trimmed, list[idx+1:]...)
		if len(trimmed) == 0 {
			delete(next, key)
		} else {
			next[key] = trimmed
		}
		if t.entries.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// snapshot returns the handlers for key in registration order. The slice
// must not be modified.
func (t *table[K, H]) snapshot(key K) []entry[H] {
	return (*t.entries.Load())[key]
}

func (t *table[K, H]) count(key K) int {
	return len(t.snapshot(key))
}

func (t *table[K, H]) copy(original entryMap[K, H]) entryMap[K, H] {
	cp := make(entryMap[K, H], len(original))
	for k, list := range original {
		cp[k] = append([]entry[H](nil), list...)
	}
	return cp
}
