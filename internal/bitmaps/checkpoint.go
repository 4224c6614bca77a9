package bitmaps

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// DeletionPlan is the transaction discarding one checkpoint from a disk.
type DeletionPlan struct {
	Actions []Action
	// Reopen lists the backing layers, top to base, that have to be made
	// writable before Actions run.
	Reopen []chain.Node
}

// PlanCheckpointDeletion folds the bitmap of the deleted checkpoint into the
// bitmap of its parent on every layer holding it, then removes it. parent is
// empty when the oldest checkpoint is deleted; its bitmaps are only removed.
//
// When a layer lacks the parent bitmap it is created first with the deleted
// bitmap's granularity, so the parent's lineage stays contiguous wherever the
// deleted bitmap's was.
func PlanCheckpointDeletion(ctx context.Context, c *chain.Chain, idx *nodedata.Index, deleted, parent, disk string) (*DeletionPlan, error) {
	if deleted == "" {
		return nil, fmt.Errorf("no checkpoint to delete given: %w", errdefs.ErrInvalidArgument)
	}
	if deleted == parent {
		return nil, fmt.Errorf("checkpoint %q cannot be its own parent: %w", deleted, errdefs.ErrInvalidArgument)
	}

	plan := &DeletionPlan{}

	for _, n := range c.Nodes() {
		del, ok := idx.Lookup(n.FormatNode, deleted)
		if !ok {
			continue
		}

		if parent != "" {
			par, hasParent := idx.Lookup(n.FormatNode, parent)
			if !hasParent {
				plan.Actions = append(plan.Actions,
					Add(n.FormatNode, parent, del.Granularity, del.Persistent, !del.Recording))
			}
			if hasParent && del.Recording && !par.Recording {
				plan.Actions = append(plan.Actions, Enable(n.FormatNode, parent))
			}
			plan.Actions = append(plan.Actions,
				Merge(n.FormatNode, parent, Ref{Node: n.FormatNode, Bitmap: deleted}))
		}
		plan.Actions = append(plan.Actions, Remove(n.FormatNode, deleted))

		if !c.IsTop(n) {
			plan.Reopen = append(plan.Reopen, n)
		}
	}

	if len(plan.Actions) == 0 {
		log.G(ctx).WithFields(log.Fields{
			"disk":       disk,
			"checkpoint": deleted,
		}).Debug("checkpoint delete: no layer holds the checkpoint bitmap")
	}

	return plan, nil
}
