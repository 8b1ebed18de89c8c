// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/ipa_gateway/internal/catalog"
)

// MockCatalog is an in-memory catalog.Store that counts lookups.
type MockCatalog struct {
	mu    sync.RWMutex
	slugs map[string]string
	calls int
	err   error
}

var _ catalog.Store = (*MockCatalog)(nil)

// NewMockCatalog creates a catalog from id/slug pairs.
func NewMockCatalog(pairs ...string) *MockCatalog {
	m := &MockCatalog{slugs: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		m.slugs[pairs[i]] = pairs[i+1]
	}
	return m
}

// Set adds or replaces an entry.
func (m *MockCatalog) Set(id, slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slugs[id] = slug
}

// FailWith makes every lookup return err until cleared with nil.
func (m *MockCatalog) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of lookups made.
func (m *MockCatalog) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// Slug implements catalog.Store.
func (m *MockCatalog) Slug(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	slug, ok := m.slugs[id]
	if !ok || strings.TrimSpace(slug) == "" {
		return "", catalog.ErrNotFound
	}
	return strings.TrimSpace(slug), nil
}

// Clock is a settable clock for token signers.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
