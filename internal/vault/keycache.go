package vault

import "sync"

// KeyCache holds decrypted master keys in memory so the OS secret store is
// only consulted once per key version per process. It is passed into New
// explicitly rather than living in a package global, so tests and embedders
// control its lifetime.
type KeyCache struct {
	mu   sync.Mutex
	keys map[uint32][]byte
}

// NewKeyCache returns an empty cache.
func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[uint32][]byte)}
}

func (c *KeyCache) get(version uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.keys[version]
	return key, ok
}

func (c *KeyCache) put(version uint32, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[version] = key
}
