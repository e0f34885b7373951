package redisstream

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Deduplicator remembers recently observed event ids so consumers can
// discard redelivered messages. The stream contract is at-least-once; this
// is the consumer-side half of the bargain, keyed on the event_id carried
// in every message. The window only needs to outlast the group's
// redelivery horizon, not the stream's full retention.
type Deduplicator struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewDeduplicator creates a Deduplicator whose entries expire after window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](window),
	)
	go cache.Start()
	return &Deduplicator{cache: cache}
}

// Seen reports whether eventID was already observed inside the window, and
// records it either way.
func (d *Deduplicator) Seen(eventID string) bool {
	if d.cache.Has(eventID) {
		return true
	}
	d.cache.Set(eventID, struct{}{}, ttlcache.DefaultTTL)
	return false
}

// Stop halts the cache's expiry loop.
func (d *Deduplicator) Stop() {
	d.cache.Stop()
}
