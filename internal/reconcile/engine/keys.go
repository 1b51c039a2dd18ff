package engine

import (
	"sync"

	"groupsync/internal/reconcile/models"
)

// keyTable serializes work per (project, allocation, user) key. Lock entries
// are reference counted and freed as soon as no event holds or waits for
// them, so the table only ever holds in-flight keys. The last processed
// sequence number is kept separately and survives entry reclamation: it is
// what lets a late retransmission of an old event be recognized as
// superseded.
type keyTable struct {
	mu      sync.Mutex
	entries map[models.Key]*keyEntry
	seqs    map[models.Key]uint64
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyTable() *keyTable {
	return &keyTable{
		entries: make(map[models.Key]*keyEntry),
		seqs:    make(map[models.Key]uint64),
	}
}

// acquire blocks until the caller holds the key exclusively. Must be paired
// with release.
func (t *keyTable) acquire(key models.Key) *keyEntry {
	t.mu.Lock()
	e := t.entries[key]
	if e == nil {
		e = &keyEntry{}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return e
}

func (t *keyTable) release(key models.Key, e *keyEntry) {
	e.mu.Unlock()

	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// lastSeq returns the highest sequence processed for the key. Call only
// while holding the key.
func (t *keyTable) lastSeq(key models.Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seqs[key]
}

// recordSeq advances the key's sequence watermark. Call only while holding
// the key.
func (t *keyTable) recordSeq(key models.Key, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq > t.seqs[key] {
		t.seqs[key] = seq
	}
}
