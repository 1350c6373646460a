package cache

import (
	"time"

	"github.com/koding/cache"
)

// TTL - a cache that expires entries after a fixed duration.
type TTL struct {
	Cache cache.Cache
}

// NewTTLCache - create a new cache whose entries live for ttl.
func NewTTLCache(ttl time.Duration) *TTL {
	c := &TTL{}
	m := cache.NewMemoryWithTTL(ttl)
	m.StartGC(ttl)
	c.Cache = m
	return c
}

/*Add - add a key and a value */
func (c *TTL) Add(key string, value interface{}) error {
	return c.Cache.Set(key, value)
}

/*Get - get the value associated with the key */
func (c *TTL) Get(key string) (interface{}, error) {
	return c.Cache.Get(key)
}

/*Delete - drop the key from the cache */
func (c *TTL) Delete(key string) error {
	return c.Cache.Delete(key)
}
