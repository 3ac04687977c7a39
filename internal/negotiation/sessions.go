package negotiation

import (
	"sync"
	"time"
)

// sessionRegistry keeps recent sessions in memory, keyed by id and by request
// fingerprint. Entries expire after ttl; the store remains the source of truth.
type sessionRegistry struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]sessionEntry
	latest     map[string]string
	onEvict    func(sessionID string)
}

type sessionEntry struct {
	session   Session
	expiresAt time.Time
}

func newSessionRegistry(ttl time.Duration, maxEntries int, now func() time.Time, onEvict func(string)) *sessionRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &sessionRegistry{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]sessionEntry),
		latest:     make(map[string]string),
		onEvict:    onEvict,
	}
}

func (r *sessionRegistry) Get(id string) (Session, bool) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if r.now().After(entry.expiresAt) {
		r.remove(id)
		return Session{}, false
	}
	return cloneSession(entry.session), true
}

func (r *sessionRegistry) Latest(fingerprint string) (Session, bool) {
	r.mu.RLock()
	id, ok := r.latest[fingerprint]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	return r.Get(id)
}

func (r *sessionRegistry) Store(session Session) {
	cloned := cloneSession(session)
	expiry := r.now().Add(r.ttl)

	r.mu.Lock()
	evicted := r.cleanupLocked()
	if _, exists := r.entries[session.ID]; !exists && len(r.entries) >= r.maxEntries {
		evicted = append(evicted, r.evictOldestLocked())
	}
	r.entries[session.ID] = sessionEntry{session: cloned, expiresAt: expiry}
	if session.Fingerprint != "" {
		r.latest[session.Fingerprint] = session.ID
	}
	r.mu.Unlock()

	r.notify(evicted)
}

func (r *sessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	removed := r.deleteLocked(id)
	r.mu.Unlock()
	if removed {
		r.notify([]string{id})
	}
}

func (r *sessionRegistry) cleanupLocked() []string {
	now := r.now()
	var evicted []string
	for id, entry := range r.entries {
		if now.After(entry.expiresAt) {
			r.deleteLocked(id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (r *sessionRegistry) evictOldestLocked() string {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, entry := range r.entries {
		if oldestID == "" || entry.expiresAt.Before(oldest) {
			oldestID, oldest = id, entry.expiresAt
		}
	}
	r.deleteLocked(oldestID)
	return oldestID
}

func (r *sessionRegistry) deleteLocked(id string) bool {
	entry, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	if r.latest[entry.session.Fingerprint] == id {
		delete(r.latest, entry.session.Fingerprint)
	}
	return true
}

func (r *sessionRegistry) notify(ids []string) {
	if r.onEvict == nil {
		return
	}
	for _, id := range ids {
		if id != "" {
			r.onEvict(id)
		}
	}
}

func cloneSession(s Session) Session {
	s.Result = cloneResult(s.Result)
	return s
}
