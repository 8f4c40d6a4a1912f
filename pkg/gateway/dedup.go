package gateway

import (
	"container/list"
	"sync"
)

// dedupLRU remembers recently delivered packet ids so a re-POST of the
// same completed packet is acknowledged without re-dispatching.
type dedupLRU struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	seen  map[string]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	if capacity <= 0 {
		capacity = 512
	}
	return &dedupLRU{
		cap:   capacity,
		order: list.New(),
		seen:  make(map[string]*list.Element),
	}
}

// Remember records an id and reports whether it was already present.
func (d *dedupLRU) Remember(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.seen[id]; ok {
		d.order.MoveToFront(elem)
		return true
	}
	d.seen[id] = d.order.PushFront(id)
	if d.order.Len() > d.cap {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
	return false
}
