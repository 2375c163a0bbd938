package server

import (
	"sync"
	"time"
)

// PresenceStatus is the last known state for a username. The zero value
// is returned for usernames that were never seen.
type PresenceStatus struct {
	Online   bool
	LastSeen time.Time
}

type presenceEntry struct {
	client   *Client
	online   bool
	lastSeen time.Time
}

// PresenceRegistry maps usernames to their live connection and
// online/last-seen state. It is an in-memory liveness cache; user
// records in the database remain authoritative for history.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[string]*presenceEntry
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		entries: make(map[string]*presenceEntry),
	}
}

// SetOnline binds c to username and marks the user online. If another
// connection was bound it is superseded (last writer wins) and
// returned; the caller decides whether to notify it. The superseded
// connection is never closed here.
func (p *PresenceRegistry) SetOnline(username string, c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev *Client
	entry, ok := p.entries[username]
	if !ok {
		entry = &presenceEntry{}
		p.entries[username] = entry
	} else if entry.client != c {
		prev = entry.client
	}

	entry.client = c
	entry.online = true

	return prev
}

// SetOffline marks username offline and records last-seen, but only if
// c is still the bound connection. A stale disconnect from a superseded
// connection must not knock the current one offline.
func (p *PresenceRegistry) SetOffline(username string, c *Client, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[username]
	if !ok || entry.client != c {
		return false
	}

	entry.client = nil
	entry.online = false
	entry.lastSeen = at

	return true
}

func (p *PresenceRegistry) Status(username string) PresenceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[username]
	if !ok {
		return PresenceStatus{}
	}

	return PresenceStatus{
		Online:   entry.online,
		LastSeen: entry.lastSeen,
	}
}

// ClientFor returns the connection currently bound to username, or nil.
func (p *PresenceRegistry) ClientFor(username string) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if entry, ok := p.entries[username]; ok {
		return entry.client
	}
	return nil
}
