package bitmaps

import (
	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// ChainIsValid reports whether the bitmap called name can be trusted on the
// chain view c. The bitmap must either be absent everywhere, or present on a
// contiguous run of layers starting at the top of c and absent below it, and
// no present copy may be inconsistent.
func ChainIsValid(c *chain.Chain, name string, idx *nodedata.Index) bool {
	return CheckChain(c, name, idx) == nil
}

// CheckChain is ChainIsValid returning the first violation found walking
// from the top of c toward its base.
func CheckChain(c *chain.Chain, name string, idx *nodedata.Index) error {
	if err := checkChain(c, name, idx); err != nil {
		return err
	}
	return nil
}

func checkChain(c *chain.Chain, name string, idx *nodedata.Index) *ChainBrokenError {
	seenGap := false
	for _, n := range c.Nodes() {
		b, ok := idx.Lookup(n.FormatNode, name)
		if !ok {
			seenGap = true
			continue
		}
		if seenGap {
			return &ChainBrokenError{Bitmap: name, Node: n.FormatNode, Reason: BreakReappeared}
		}
		if b.Inconsistent {
			return &ChainBrokenError{Bitmap: name, Node: n.FormatNode, Reason: BreakInconsistent}
		}
	}
	return nil
}

// lineage returns the layers of c holding name, from the top of c down to
// the first layer lacking it.
func lineage(c *chain.Chain, name string, idx *nodedata.Index) []Ref {
	var refs []Ref
	for _, n := range c.Nodes() {
		if _, ok := idx.Lookup(n.FormatNode, name); !ok {
			break
		}
		refs = append(refs, Ref{Node: n.FormatNode, Bitmap: name})
	}
	return refs
}

// CheckNodeData returns a *NodeDataMissingError naming every layer of c that
// has no entry in idx. Planners do not require this; missing layers are
// treated as having no bitmaps.
func CheckNodeData(c *chain.Chain, idx *nodedata.Index, disk string) error {
	var missing []string
	for _, n := range c.Nodes() {
		if !idx.HasNode(n.FormatNode) {
			missing = append(missing, n.FormatNode)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &NodeDataMissingError{DiskName: disk, Nodes: missing}
}
