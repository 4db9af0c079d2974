// Package cache holds the in-memory endpoint table: agent to pod address.
// The table is rebuilt by the reconciler after a restart, so loss is
// acceptable.
package cache

import (
	"sync"

	"github.com/aura-swarm/swarm/pkg/ids"
)

// EndpointCache maps agents to "host:port" pod addresses. Safe for
// concurrent readers with exclusive writers.
type EndpointCache struct {
	mu        sync.RWMutex
	endpoints map[ids.AgentID]string
}

// New returns an empty cache.
func New() *EndpointCache {
	return &EndpointCache{endpoints: make(map[ids.AgentID]string)}
}

// Get returns the endpoint for an agent, or "" and false.
func (c *EndpointCache) Get(id ids.AgentID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.endpoints[id]
	return ep, ok
}

// Insert records or replaces the agent's endpoint.
func (c *EndpointCache) Insert(id ids.AgentID, endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints[id] = endpoint
}

// Remove drops the agent's endpoint if present.
func (c *EndpointCache) Remove(id ids.AgentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.endpoints, id)
}

// Contains reports whether the agent has a cached endpoint.
func (c *EndpointCache) Contains(id ids.AgentID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.endpoints[id]
	return ok
}

// Clear drops all entries.
func (c *EndpointCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = make(map[ids.AgentID]string)
}

// Keys returns the agents with cached endpoints, in no particular order.
func (c *EndpointCache) Keys() []ids.AgentID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]ids.AgentID, 0, len(c.endpoints))
	for id := range c.endpoints {
		keys = append(keys, id)
	}
	return keys
}

// Len returns the number of cached endpoints.
func (c *EndpointCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints)
}
