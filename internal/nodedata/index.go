// Package nodedata holds a point-in-time snapshot of the dirty bitmaps
// present on each format node of a disk.
package nodedata

import (
	"fmt"
	"io"
	"sort"
)

// Bitmap is the state of one dirty bitmap as reported by the backend.
type Bitmap struct {
	Name string
	// Recording is set while the bitmap accumulates writes.
	Recording bool
	// Busy is set while another job owns the bitmap.
	Busy bool
	// Persistent bitmaps survive a restart of the backend.
	Persistent bool
	// Inconsistent bitmaps are corrupted and must not be used.
	Inconsistent bool
	// Granularity is the number of bytes tracked by one bit.
	Granularity uint64
	// DirtyBytes is the number of bytes currently marked dirty.
	DirtyBytes uint64
}

// Index maps format node names to the bitmaps present on them. An Index is
// immutable once built; a node that is not in the index has no bitmaps.
type Index struct {
	nodes map[string][]Bitmap
}

// New builds an Index from a map of format node name to bitmaps. The input is
// copied.
func New(nodes map[string][]Bitmap) *Index {
	idx := &Index{nodes: make(map[string][]Bitmap, len(nodes))}
	for name, bitmaps := range nodes {
		idx.nodes[name] = append([]Bitmap(nil), bitmaps...)
	}
	return idx
}

// Lookup returns the bitmap called name on node.
func (idx *Index) Lookup(node, name string) (Bitmap, bool) {
	if idx == nil {
		return Bitmap{}, false
	}
	for _, b := range idx.nodes[node] {
		if b.Name == name {
			return b, true
		}
	}
	return Bitmap{}, false
}

// Bitmaps returns a copy of the bitmaps on node in backend order.
func (idx *Index) Bitmaps(node string) []Bitmap {
	if idx == nil {
		return nil
	}
	return append([]Bitmap(nil), idx.nodes[node]...)
}

// HasNode reports whether the snapshot contains an entry for node.
func (idx *Index) HasNode(node string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.nodes[node]
	return ok
}

// Nodes returns the sorted names of all nodes in the snapshot.
func (idx *Index) Nodes() []string {
	if idx == nil {
		return nil
	}
	names := make([]string, 0, len(idx.nodes))
	for name := range idx.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the snapshot as a plain map, ready to be
// modified and turned back into an Index with New.
func (idx *Index) Clone() map[string][]Bitmap {
	if idx == nil {
		return map[string][]Bitmap{}
	}
	out := make(map[string][]Bitmap, len(idx.nodes))
	for name, bitmaps := range idx.nodes {
		out[name] = append([]Bitmap(nil), bitmaps...)
	}
	return out
}

// Format writes the canonical listing of the bitmaps on the given nodes.
// Nodes missing from the snapshot are skipped.
func (idx *Index) Format(w io.Writer, nodes ...string) error {
	for _, node := range nodes {
		if !idx.HasNode(node) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s:\n", node); err != nil {
			return err
		}
		for _, b := range idx.nodes[node] {
			if _, err := fmt.Fprintf(w, "  %8s: record:%d busy:%d persist:%d inconsist:%d gran:%d dirty:%d\n",
				b.Name, btoi(b.Recording), btoi(b.Busy), btoi(b.Persistent),
				btoi(b.Inconsistent), b.Granularity, b.DirtyBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
