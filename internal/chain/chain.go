// Package chain models the backing chain of a virtual disk: an active top
// layer followed by its read-only backing layers down to the base image.
//
// A Chain is an immutable arena of nodes indexed by depth. Depth 1 is the
// active layer; depth Len() is the base. Views returned by Sub and From share
// the arena and keep the original depths, so a node found in a view can be
// compared directly with nodes of the full chain.
package chain

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Node is one image layer of a backing chain.
type Node struct {
	// Depth is 1 for the active layer and grows toward the base.
	Depth int
	// StorageNode is the backend identifier of the protocol node.
	StorageNode string
	// FormatNode is the backend identifier of the format node. Dirty
	// bitmaps are attached to format nodes.
	FormatNode string
	// Format is the image format, e.g. "qcow2".
	Format string
	// Path is informational only.
	Path string
}

func (n Node) String() string {
	return fmt.Sprintf("%s (depth %d)", n.FormatNode, n.Depth)
}

// Chain is a read-only view of a backing chain.
type Chain struct {
	nodes []Node
	// first and last are slot indexes bounding this view.
	first, last int
}

// New builds a chain from nodes given top to base. Depths must start at 1
// and be consecutive, and format node names must be unique.
func New(nodes ...Node) (*Chain, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("backing chain has no layers: %w", errdefs.ErrInvalidArgument)
	}

	seen := make(map[string]int, len(nodes))
	arena := make([]Node, len(nodes))
	for i, n := range nodes {
		if n.Depth != i+1 {
			return nil, fmt.Errorf("layer %q has depth %d, expected %d: %w",
				n.FormatNode, n.Depth, i+1, errdefs.ErrInvalidArgument)
		}
		if n.FormatNode == "" {
			return nil, fmt.Errorf("layer at depth %d has no format node name: %w",
				n.Depth, errdefs.ErrInvalidArgument)
		}
		if prev, ok := seen[n.FormatNode]; ok {
			return nil, fmt.Errorf("format node %q used at depth %d and %d: %w",
				n.FormatNode, prev, n.Depth, errdefs.ErrInvalidArgument)
		}
		seen[n.FormatNode] = n.Depth
		arena[i] = n
	}

	return &Chain{nodes: arena, first: 0, last: len(arena) - 1}, nil
}

// Len returns the number of layers in the view.
func (c *Chain) Len() int {
	return c.last - c.first + 1
}

// Top returns the shallowest layer of the view.
func (c *Chain) Top() Node {
	return c.nodes[c.first]
}

// Base returns the deepest layer of the view.
func (c *Chain) Base() Node {
	return c.nodes[c.last]
}

// At returns the layer at the given depth if it is part of the view.
func (c *Chain) At(depth int) (Node, bool) {
	i := depth - 1
	if i < c.first || i > c.last {
		return Node{}, false
	}
	return c.nodes[i], true
}

// Nodes returns a copy of the layers of the view, top to base.
func (c *Chain) Nodes() []Node {
	out := make([]Node, c.Len())
	copy(out, c.nodes[c.first:c.last+1])
	return out
}

// Lookup finds a layer of the view by its format node name.
func (c *Chain) Lookup(formatNode string) (Node, bool) {
	for _, n := range c.nodes[c.first : c.last+1] {
		if n.FormatNode == formatNode {
			return n, true
		}
	}
	return Node{}, false
}

// IsTop reports whether n is the active layer of the full chain. Only the
// active layer is writable without reopening.
func (c *Chain) IsTop(n Node) bool {
	return n.Depth == 1 && c.nodes[0].FormatNode == n.FormatNode
}

// Sub returns the view restricted to depths [top..base].
func (c *Chain) Sub(top, base int) (*Chain, error) {
	if top > base {
		return nil, fmt.Errorf("top depth %d is below base depth %d: %w", top, base, errdefs.ErrInvalidArgument)
	}
	if _, ok := c.At(top); !ok {
		return nil, fmt.Errorf("depth %d is not part of the chain: %w", top, errdefs.ErrInvalidArgument)
	}
	if _, ok := c.At(base); !ok {
		return nil, fmt.Errorf("depth %d is not part of the chain: %w", base, errdefs.ErrInvalidArgument)
	}
	return &Chain{nodes: c.nodes, first: top - 1, last: base - 1}, nil
}

// From returns the view starting at depth and reaching the base of c.
// It panics if depth is outside the view; callers pass depths of nodes they
// obtained from c.
func (c *Chain) From(depth int) *Chain {
	sub, err := c.Sub(depth, c.Base().Depth)
	if err != nil {
		panic(err)
	}
	return sub
}

// Sequence returns the format node names of the view, newest first.
func (c *Chain) Sequence() LayerSequence {
	ids := make([]string, 0, c.Len())
	for _, n := range c.nodes[c.first : c.last+1] {
		ids = append(ids, n.FormatNode)
	}
	return NewNewestFirst(ids)
}
