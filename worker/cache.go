package worker

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
)

// Assumed bytes per cached response, for sizing the slot array. Real
// responses vary; the estimate only controls how many slots we allocate.
const cacheEntrySize = 2048

const minSizePowerOf2 = 10

// responseCache memoizes serialized fit responses, keyed by a 64-bit hash
// of the raw request payload. It is a fixed-size open table: the slot is
// the low bits of the key, and a colliding store overwrites whatever is
// there.
type responseCache struct {
	mu           sync.RWMutex
	slots        []cacheSlot
	sizePowerOf2 int
	sizeMask     uint64

	lookups    atomic.Uint64
	hits       atomic.Uint64
	stores     atomic.Uint64
	collisions atomic.Uint64
}

type cacheSlot struct {
	key  uint64
	resp []byte
}

func (c *responseCache) reset(fractionOfMemory float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	totalMem := memory.TotalMemory()
	desiredNElems := fractionOfMemory * (float64(totalMem) / float64(cacheEntrySize))
	// biggest power of 2 not above desired, floored at the minimum size.
	c.sizePowerOf2 = minSizePowerOf2
	if desiredNElems > float64(uint64(1)<<minSizePowerOf2) {
		c.sizePowerOf2 = int(math.Log2(desiredNElems))
	}
	numElems := 1 << c.sizePowerOf2
	c.sizeMask = uint64(numElems - 1)
	c.slots = make([]cacheSlot, numElems)

	log.Info().Int("num-elems", numElems).
		Float64("desired-num-elems", desiredNElems).
		Uint64("total-system-memory-bytes", totalMem).
		Msg("response-cache-size")

	c.lookups.Store(0)
	c.hits.Store(0)
	c.stores.Store(0)
	c.collisions.Store(0)
}

func (c *responseCache) get(key uint64) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.lookups.Add(1)
	slot := c.slots[key&c.sizeMask]
	if slot.resp == nil || slot.key != key {
		return nil, false
	}
	c.hits.Add(1)
	return slot.resp, true
}

func (c *responseCache) put(key uint64, resp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := key & c.sizeMask
	if c.slots[idx].resp != nil && c.slots[idx].key != key {
		c.collisions.Add(1)
	}
	c.slots[idx] = cacheSlot{key: key, resp: resp}
	c.stores.Add(1)
}
