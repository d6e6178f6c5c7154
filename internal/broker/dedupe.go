package broker

import "sync"

// deduper tracks published event IDs for producer-side idempotency.
// Bounded FIFO eviction: once maxSize IDs are held, the oldest recorded ID
// is forgotten. Safe for concurrent use.
type deduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string
	head    int
	maxSize int
}

func newDeduper(maxSize int) *deduper {
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &deduper{
		seen:    make(map[string]struct{}, maxSize),
		maxSize: maxSize,
	}
}

// seenAndRecord atomically checks whether id was already recorded and
// records it if not. Returns true if id was already seen.
func (d *deduper) seenAndRecord(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	for len(d.seen) >= d.maxSize && d.head < len(d.order) {
		oldest := d.order[d.head]
		d.head++
		// Entries unrecorded after a failed publish leave stale order slots.
		if _, ok := d.seen[oldest]; ok {
			delete(d.seen, oldest)
		}
	}
	if d.head > d.maxSize { // occasional compaction of the drained prefix
		d.order = append([]string(nil), d.order[d.head:]...)
		d.head = 0
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

// unrecord forgets an ID that was recorded but whose publish ultimately
// failed, so the caller can retry it later.
func (d *deduper) unrecord(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *deduper) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
