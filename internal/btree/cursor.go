package btree

import "github.com/motedb/motedb/internal/types"

// Cursor walks a BPlusTree's leaves in key order using lock-coupled
// traversal: only the current and next leaf are ever locked at once, so a
// long-lived scan never blocks the whole tree against concurrent writers.
type Cursor struct {
	tree         *BPlusTree
	currentNode  *Node
	currentIndex int
}

// NewCursor creates a cursor over tree. Call Seek before using it.
func (b *BPlusTree) NewCursor() *Cursor {
	return &Cursor{tree: b}
}

// Close releases the read lock held on the cursor's current leaf, if any.
func (c *Cursor) Close() {
	if c.currentNode != nil {
		c.currentNode.RUnlock()
		c.currentNode = nil
	}
}

// Key returns the key at the cursor's current position.
func (c *Cursor) Key() types.Comparable { return c.currentNode.Keys[c.currentIndex] }

// Value returns the data slot at the cursor's current position.
func (c *Cursor) Value() int64 { return c.currentNode.DataPtrs[c.currentIndex] }

// Valid reports whether the cursor currently points at a live entry.
func (c *Cursor) Valid() bool { return c.currentNode != nil && c.currentIndex < c.currentNode.N }

// Seek positions the cursor at key, or at the first key greater than it if
// key is absent. A nil key seeks to the first entry in the tree.
func (c *Cursor) Seek(key types.Comparable) {
	c.Close()

	leaf, idx := c.tree.FindLeafLowerBound(key)
	if leaf == nil {
		return
	}

	for leaf != nil && idx >= leaf.N {
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()
		leaf = next
		idx = 0
	}

	if leaf == nil {
		return
	}
	c.currentNode = leaf
	c.currentIndex = idx
}

// Next advances the cursor to the following entry, returning false once
// the tree is exhausted.
func (c *Cursor) Next() bool {
	if c.currentNode == nil {
		return false
	}

	if c.currentIndex+1 < c.currentNode.N {
		c.currentIndex++
		return true
	}

	next := c.currentNode.Next
	if next != nil {
		next.RLock()
	}
	c.currentNode.RUnlock()
	c.currentNode = next
	c.currentIndex = 0

	for c.currentNode != nil && c.currentNode.N == 0 {
		n := c.currentNode.Next
		if n != nil {
			n.RLock()
		}
		c.currentNode.RUnlock()
		c.currentNode = n
		c.currentIndex = 0
	}

	return c.currentNode != nil
}
