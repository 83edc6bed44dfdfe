package availability

import (
	"sync"
	"time"

	"github.com/WDP301-BKS/reservation-service-go/internal/slot"
)

// Cache is a short-TTL, in-process view of occupied ranges per (field, date).
// It only serves reads; every conflict decision on a write path goes to the
// slot store under lock. A committed write invalidates its key synchronously,
// so this node never serves occupancy older than its own last write.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	occupied  []slot.Occupied
	expiresAt time.Time
}

const DefaultTTL = time.Minute

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func key(fieldID string, date time.Time) string {
	return fieldID + "|" + date.Format("2006-01-02")
}

func (c *Cache) Get(fieldID string, date time.Time) ([]slot.Occupied, bool) {
	c.mu.RLock()
	e, ok := c.entries[key(fieldID, date)]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.occupied, true
}

func (c *Cache) Put(fieldID string, date time.Time, occupied []slot.Occupied) {
	c.mu.Lock()
	c.entries[key(fieldID, date)] = entry{
		occupied:  occupied,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops the entry for one (field, date). Called after every
// committed write touching that key.
func (c *Cache) Invalidate(fieldID string, date time.Time) {
	c.mu.Lock()
	delete(c.entries, key(fieldID, date))
	c.mu.Unlock()
}
