package reconcile

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// missCache remembers signatures that never need fetching again in this process:
// confirmed non-burns and burns that fell off the retained history. The least
// recently added entry is evicted once size is reached. A size <= 0 disables it.
type missCache struct {
	c *lru.Cache[string, struct{}]
}

func newMissCache(size int) *missCache {
	if size <= 0 {
		return &missCache{}
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return &missCache{}
	}
	return &missCache{c: c}
}

func (m *missCache) has(sig string) bool {
	if m.c == nil {
		return false
	}
	return m.c.Contains(sig)
}

// add keeps the recency of a signature that is already present.
func (m *missCache) add(sig string) {
	if m.c == nil {
		return
	}
	m.c.ContainsOrAdd(sig, struct{}{})
}

func (m *missCache) len() int {
	if m.c == nil {
		return 0
	}
	return m.c.Len()
}
