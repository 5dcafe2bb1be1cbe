package history

import (
	"sync"

	"github.com/gemrelay/gemrelay/internal/media"
)

// Node is the cached parsed representation of one chat message. A node is
// created empty the first time its ID is referenced and populated exactly once
// under its lock; afterwards it is read by arbitrarily many conversation
// walks.
type Node struct {
	mu        sync.Mutex
	populated bool

	Text        string
	Images      []media.Image
	Role        string
	UserID      string
	DisplayName string

	HasBadAttachments bool
	ImagesTruncated   bool
	FetchParentFailed bool

	// ParentID is a weak reference: a lookup key into the cache and the
	// platform, never an owned pointer. ParentChannelID is where that
	// message lives.
	ParentID        string
	ParentChannelID string
}

// Lock acquires the node's populate-or-read critical section.
func (n *Node) Lock() { n.mu.Lock() }

// Unlock releases the node's lock.
func (n *Node) Unlock() { n.mu.Unlock() }

// Populated reports whether the node's content has been derived. Callers must
// hold the node's lock.
func (n *Node) Populated() bool { return n.populated }

// MarkPopulated records that the node's content is final. Callers must hold
// the node's lock.
func (n *Node) MarkPopulated() { n.populated = true }
