// ABOUTME: Bounded TTL set of recently settled ids (correlation ids, confirmation ids).
// ABOUTME: Lets late or duplicate replies be recognised and dropped as no-ops.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers ids for ttl, holding at most maxSize of them.
// The oldest id is evicted first when full.
type Cache struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts a sweeper that drops expired ids every sweep interval.
// A non-positive sweep disables the background goroutine.
func New(ttl time.Duration, maxSize int, sweep time.Duration) *Cache {
	c := &Cache{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweepLoop(sweep)
	}
	return c
}

// Settle records id as settled. It returns true only for the first caller
// within the ttl window; later callers get false.
func (c *Cache) Settle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.ids[id]; ok && c.now().Sub(e.at) < c.ttl {
		return false
	}
	c.insertLocked(id)
	return true
}

// Settled reports whether id was settled within the ttl window.
func (c *Cache) Settled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.ids[id]
	return ok && c.now().Sub(e.at) < c.ttl
}

// Len returns the number of ids currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func (c *Cache) insertLocked(id string) {
	now := c.now()
	if e, ok := c.ids[id]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}
	for c.maxSize > 0 && len(c.ids) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.ids, front.Value.(string))
	}
	c.ids[id] = &entry{at: now, elem: c.order.PushBack(id)}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired ids. Insertion order matches age, so it stops at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		id := front.Value.(string)
		if now.Sub(c.ids[id].at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.ids, id)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
