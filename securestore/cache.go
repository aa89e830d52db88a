package securestore

import (
	"container/list"
	"sync"
)

// plaintextCache is a thread-safe LRU cache sitting in front of the sealed
// SQLite store so repeated reads do not pay decryption cost.
type plaintextCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []byte
}

func newPlaintextCache(capacity int) *plaintextCache {
	return &plaintextCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *plaintextCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *plaintextCache) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*cacheEntry).key)
			c.order.Remove(oldest)
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, value: value})
	c.items[key] = elem
}

func (c *plaintextCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(elem)
	}
}

func (c *plaintextCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}
