package bitmaps

import (
	"context"

	"github.com/containerd/log"

	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// PlanBlockCopy returns the actions recreating the checkpoint bitmaps of c on
// the mirror node of a block-copy job.
//
// Only persistent, consistent bitmaps of the active layer are copied. A
// shallow copy keeps the backing chain, so only the active layer's bitmap is
// merged. A deep copy flattens the chain into the mirror: each bitmap must be
// valid across the whole chain and every layer of its lineage is merged.
// Each name gets its own bitmap on the mirror. Bitmaps owned by another job
// are created on the mirror but not merged.
func PlanBlockCopy(ctx context.Context, c *chain.Chain, mirror string, idx *nodedata.Index, shallow bool) []Action {
	top := c.Top()
	var actions []Action

	for _, b := range idx.Bitmaps(top.FormatNode) {
		entry := log.G(ctx).WithFields(log.Fields{
			"bitmap": b.Name,
			"mirror": mirror,
		})
		if !b.Persistent || b.Inconsistent {
			entry.Debug("block copy: skipping transient or inconsistent bitmap")
			continue
		}

		sources := []Ref{{Node: top.FormatNode, Bitmap: b.Name}}
		if !shallow {
			if err := CheckChain(c, b.Name, idx); err != nil {
				entry.WithError(err).Debug("block copy: skipping bitmap with broken lineage")
				continue
			}
			sources = lineage(c, b.Name, idx)
		}

		actions = append(actions, Add(mirror, b.Name, b.Granularity, true, !b.Recording))
		if b.Busy {
			// Busy bitmaps cannot be merged from; the mirror copy starts empty.
			entry.Debug("block copy: bitmap is in use by another job, not merging it")
			continue
		}
		actions = append(actions, Merge(mirror, b.Name, sources...))
	}

	return actions
}
