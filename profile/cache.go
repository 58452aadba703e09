// Package profile holds the shared cache of the current user's profile data.
// The webapp kept this as a global on its API client; here it is an explicit
// service object owned by the portal client and handed to every component
// that needs reactive profile awareness.
package profile

import (
	"context"
	"sort"
	"sync"

	"github.com/dynamicruntime/dnclient/core"
)

// Subscriber is called synchronously with the new profile on every store.
type Subscriber func(core.Profile)

// Cache stores the latest profile payload and notifies a keyed registry of
// subscribers on change. Keys are unique; the last registration under a key
// wins. Subscribers must unregister before being destroyed.
type Cache struct {
	mu       sync.RWMutex
	current  core.Profile
	username string
	loggedIn bool
	subs     map[string]Subscriber
}

func NewCache() *Cache {
	return &Cache{subs: make(map[string]Subscriber)}
}

// Set stores the profile, recomputes the flattened username and logged-in
// flag, and notifies every subscriber exactly once with the new data.
// Callbacks run outside the lock in sorted key order, so a subscriber may
// read the cache or adjust registrations re-entrantly.
func (c *Cache) Set(p core.Profile) {
	c.mu.Lock()
	c.current = p
	c.username = p.DisplayName()
	c.loggedIn = c.username != ""

	keys := make([]string, 0, len(c.subs))
	for key := range c.subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	subs := make([]Subscriber, 0, len(keys))
	for _, key := range keys {
		subs = append(subs, c.subs[key])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

// SetFromResponse decodes a login or profile response payload and stores it.
// A payload that does not decode as a profile stores the empty profile.
func (c *Cache) SetFromResponse(r *core.Response) {
	var p core.Profile
	if r != nil {
		_ = r.Decode(&p)
	}
	c.Set(p)
}

// Current returns the last stored profile, the zero value when none.
func (c *Cache) Current() core.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Username returns the flattened username of the stored profile.
func (c *Cache) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsLoggedIn reports whether the stored profile carries a username.
func (c *Cache) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// Subscribe registers fn under key, replacing any prior registration.
func (c *Cache) Subscribe(key string, fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[key] = fn
}

// Unsubscribe removes the registration under key, if any.
func (c *Cache) Unsubscribe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, key)
}

// Refresh fetches /user/self/info and stores the result. A failed or
// non-2xx fetch stores the empty profile so views settle on logged-out.
func (c *Cache) Refresh(ctx context.Context, t core.Transport) error {
	resp, err := t.Get(ctx, "/user/self/info")
	if err != nil {
		c.Set(core.Profile{})
		return err
	}
	if !resp.IsSuccess() {
		c.Set(core.Profile{})
		return nil
	}
	c.SetFromResponse(resp)
	return nil
}
