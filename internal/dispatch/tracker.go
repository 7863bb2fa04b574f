package dispatch

import "time"

// correlationTracker deduplicates operator- and graph-originated
// dispatch requests by correlation id: inflight maps a correlation id
// to the command id currently pursuing it; recentCompleted remembers
// a completed correlation id for TTL so a retried request after
// completion is dropped rather than re-dispatched.
type correlationTracker struct {
	inflight        map[string]string
	recentCompleted map[string]time.Time
	ttl             time.Duration
}

func newCorrelationTracker(ttl time.Duration) *correlationTracker {
	return &correlationTracker{
		inflight:        make(map[string]string),
		recentCompleted: make(map[string]time.Time),
		ttl:             ttl,
	}
}

// sweep evicts recentCompleted entries older than ttl. Called before
// every admission decision, per the admission order in the dispatcher.
func (c *correlationTracker) sweep(now time.Time) {
	for corr, at := range c.recentCompleted {
		if now.Sub(at) > c.ttl {
			delete(c.recentCompleted, corr)
		}
	}
}

func (c *correlationTracker) isRecentlyCompleted(correlationID string) bool {
	_, ok := c.recentCompleted[correlationID]
	return ok
}

func (c *correlationTracker) inflightCommandID(correlationID string) (string, bool) {
	id, ok := c.inflight[correlationID]
	return id, ok
}

func (c *correlationTracker) markInflight(correlationID, commandID string) {
	c.inflight[correlationID] = commandID
}

func (c *correlationTracker) clearInflight(correlationID string) {
	delete(c.inflight, correlationID)
}

func (c *correlationTracker) markCompleted(correlationID string, at time.Time) {
	delete(c.inflight, correlationID)
	c.recentCompleted[correlationID] = at
}

// reset clears the inflight map, used on broker outage: latent replays
// are forbidden, operators resume manually. recentCompleted is kept, so
// a completed correlation id is still dropped within its TTL.
func (c *correlationTracker) reset() {
	c.inflight = make(map[string]string)
}
