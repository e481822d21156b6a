package feed

import (
	"container/list"
	"sync"
	"time"
)

const iconCacheMaxEntries = 256

type iconCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type iconCacheEntry struct {
	key       string
	iconURL   string
	expiresAt time.Time
}

func newIconCache(maxEntries int) *iconCache {
	if maxEntries <= 0 {
		return nil
	}

	return &iconCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *iconCache) get(key string, now time.Time) (string, bool) {
	if c == nil || key == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}

	entry, ok := elem.Value.(*iconCacheEntry)
	if !ok {
		return "", false
	}

	if now.After(entry.expiresAt) {
		c.removeElement(elem)

		return "", false
	}

	c.order.MoveToFront(elem)

	return entry.iconURL, true
}

func (c *iconCache) set(key string, iconURL string, expiresAt time.Time, now time.Time) {
	if c == nil || key == "" || iconURL == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		if entry, entryOk := elem.Value.(*iconCacheEntry); entryOk {
			entry.iconURL = iconURL
			entry.expiresAt = expiresAt
		}
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&iconCacheEntry{
		key:       key,
		iconURL:   iconURL,
		expiresAt: expiresAt,
	})
	c.entries[key] = elem

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

func (c *iconCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)

	if entry, ok := elem.Value.(*iconCacheEntry); ok {
		delete(c.entries, entry.key)
	}
}
