package chain

import "slices"

// LayerSequence is a list of format node names tagged with its direction.
// Planners walk the chain from the active layer down; listings for humans
// start at the base image.
type LayerSequence struct {
	IDs           []string
	IsNewestFirst bool
}

// NewNewestFirst wraps ids given in chain order, active layer first.
func NewNewestFirst(ids []string) LayerSequence {
	return LayerSequence{IDs: ids, IsNewestFirst: true}
}

// Reverse returns the sequence in the opposite direction. The receiver's IDs
// are not modified.
func (s LayerSequence) Reverse() LayerSequence {
	ids := slices.Clone(s.IDs)
	slices.Reverse(ids)
	return LayerSequence{IDs: ids, IsNewestFirst: !s.IsNewestFirst}
}

// OldestFirst returns the sequence with the base image first.
func (s LayerSequence) OldestFirst() LayerSequence {
	if s.IsNewestFirst {
		return s.Reverse()
	}
	return s
}
