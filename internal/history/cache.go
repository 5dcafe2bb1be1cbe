package history

import (
	"sort"
	"strconv"
	"sync"
)

// MaxNodes bounds the cache; eviction removes the numerically oldest message
// IDs first (snowflakes grow monotonically).
const MaxNodes = 500

// Cache is a bounded, concurrency-safe store of message nodes keyed by
// message ID. Initialized empty at startup; entries are created on demand and
// never persisted across restarts.
type Cache struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	maxNodes int
}

// NewCache creates an empty cache bounded at MaxNodes.
func NewCache() *Cache {
	return &Cache{
		nodes:    make(map[string]*Node),
		maxNodes: MaxNodes,
	}
}

// GetOrCreate returns the node for id, creating an empty one on first
// reference.
func (c *Cache) GetOrCreate(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes[id]
	if !ok {
		node = &Node{}
		c.nodes[id] = node
	}
	return node
}

// Len returns the number of cached nodes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// EvictExcess removes the oldest-keyed entries until the cache is back under
// its bound. Each victim's lock is taken before removal so an in-flight
// populate is never evicted mid-write.
func (c *Cache) EvictExcess() {
	c.mu.Lock()
	excess := len(c.nodes) - c.maxNodes
	if excess <= 0 {
		c.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return snowflakeLess(ids[i], ids[j]) })

	for _, id := range ids[:excess] {
		c.mu.Lock()
		node, ok := c.nodes[id]
		c.mu.Unlock()
		if !ok {
			continue
		}
		node.Lock()
		c.mu.Lock()
		delete(c.nodes, id)
		c.mu.Unlock()
		node.Unlock()
	}
}

func snowflakeLess(a, b string) bool {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr != nil || berr != nil {
		return a < b
	}
	return ai < bi
}
