package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Dedup remembers recently executed trades by (challenge, idempotency key) so
// retries within the TTL are answered without touching the database. The
// store's unique key index remains the source of truth. Safe for concurrent use.
type Dedup struct {
	seen map[string]dedupEntry
	ttl  time.Duration
	mu   sync.Mutex
}

type dedupEntry struct {
	trade  domain.Trade
	seenAt time.Time
}

// NewDedup creates a Dedup that keeps results for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]dedupEntry),
		ttl:  ttl,
	}
}

func dedupKey(challengeID, key string) string { return challengeID + "|" + key }

// Lookup returns the trade previously recorded under key, if still fresh.
func (d *Dedup) Lookup(challengeID, key string) (domain.Trade, bool) {
	if key == "" {
		return domain.Trade{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.seen[dedupKey(challengeID, key)]
	if !ok || time.Since(e.seenAt) >= d.ttl {
		return domain.Trade{}, false
	}
	return e.trade, true
}

// Remember records the result of an executed trade.
func (d *Dedup) Remember(t domain.Trade) {
	if t.IdempotencyKey == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[dedupKey(t.ChallengeID, t.IdempotencyKey)] = dedupEntry{trade: t, seenAt: time.Now()}
}

// Cleanup removes entries that have expired beyond the TTL. This should be
// called periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, e := range d.seen {
		if now.Sub(e.seenAt) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered entries.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
