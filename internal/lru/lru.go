// Package lru is a bounded, least-recently-used map. The statement caches of
// both backends are built on it.
package lru

import "container/list"

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache keeps at most Capacity entries. It is not safe for concurrent use; a
// cache belongs to one connection.
type Cache[K comparable, V any] struct {
	capacity int
	lruList  *list.List
	items    map[K]*list.Element

	// OnEvict is called for every entry pushed out by Put or removed by Clear.
	OnEvict func(key K, value V)
}

// New returns a cache holding up to capacity entries. A capacity <= 0 disables
// caching: Put evicts immediately.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[K]*list.Element),
		OnEvict:  onEvict,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces key and evicts the least recently used entries
// beyond capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.lruList.MoveToFront(elem)
		return
	}
	c.items[key] = c.lruList.PushFront(&entry[K, V]{key: key, value: value})
	for c.lruList.Len() > max(c.capacity, 0) {
		c.removeElement(c.lruList.Back())
	}
}

// Remove drops key without calling OnEvict.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := elem.Value.(*entry[K, V])
	c.lruList.Remove(elem)
	delete(c.items, key)
	return e.value, true
}

// Clear evicts every entry, most recently used first.
func (c *Cache[K, V]) Clear() {
	for c.lruList.Len() > 0 {
		c.removeElement(c.lruList.Front())
	}
}

func (c *Cache[K, V]) Len() int {
	return c.lruList.Len()
}

func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

func (c *Cache[K, V]) removeElement(elem *list.Element) {
	e := elem.Value.(*entry[K, V])
	c.lruList.Remove(elem)
	delete(c.items, e.key)
	if c.OnEvict != nil {
		c.OnEvict(e.key, e.value)
	}
}
