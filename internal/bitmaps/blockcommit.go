package bitmaps

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// CommitStart is the result of the first phase of a block-commit.
type CommitStart struct {
	// Actions disable the bitmaps listed in Disabled on the top layer.
	Actions []Action
	// Disabled must be handed to PlanBlockCommitFinish.
	Disabled []string
	// Busy lists bitmaps that qualified but are owned by another job.
	Busy []string
}

// commitRange resolves the layers of a commit of top into base.
func commitRange(c *chain.Chain, top, base int, disk string) (*chain.Chain, error) {
	if top >= base {
		return nil, fmt.Errorf("block commit of disk %s: top depth %d must be above base depth %d: %w",
			disk, top, base, errdefs.ErrInvalidArgument)
	}
	sub, err := c.Sub(top, base)
	if err != nil {
		return nil, fmt.Errorf("block commit range of disk %s: %w", disk, err)
	}
	return sub, nil
}

// PlanBlockCommitStart returns the actions to run before a block-commit of
// the layer at depth top into the layer at depth base. Every recording bitmap
// of the top layer whose lineage is valid within [top..base] is disabled so
// that its content stays stable while the job copies data.
func PlanBlockCommitStart(ctx context.Context, c *chain.Chain, top, base int, idx *nodedata.Index, disk string) (*CommitStart, error) {
	sub, err := commitRange(c, top, base, disk)
	if err != nil {
		return nil, err
	}

	topNode := sub.Top()
	start := &CommitStart{}
	for _, b := range idx.Bitmaps(topNode.FormatNode) {
		if !b.Recording || !ChainIsValid(sub, b.Name, idx) {
			continue
		}
		if b.Busy {
			log.G(ctx).WithFields(log.Fields{
				"disk":   disk,
				"bitmap": b.Name,
				"node":   topNode.FormatNode,
			}).Warn("block commit: bitmap is in use by another job, not disabling it")
			start.Busy = append(start.Busy, b.Name)
			continue
		}
		start.Actions = append(start.Actions, Disable(topNode.FormatNode, b.Name))
		start.Disabled = append(start.Disabled, b.Name)
	}

	return start, nil
}

// PlanBlockCommitFinish returns the actions to run once the block-commit
// completed and before the committed layers are dropped. Each bitmap
// disabled by PlanBlockCommitStart is merged into the base layer, together
// with the copies on intermediate layers continuing its lineage. The base
// bitmap is created, disabled, if it does not exist yet.
func PlanBlockCommitFinish(ctx context.Context, c *chain.Chain, top, base int, idx *nodedata.Index, disabled []string, disk string) ([]Action, error) {
	sub, err := commitRange(c, top, base, disk)
	if err != nil {
		return nil, err
	}

	topNode := sub.Top()
	baseNode := sub.Base()
	// Layers removed by the commit.
	committed, err := c.Sub(top, base-1)
	if err != nil {
		return nil, err
	}

	var actions []Action
	for _, name := range disabled {
		b, ok := idx.Lookup(topNode.FormatNode, name)
		if !ok {
			return nil, &BitmapNotFoundError{DiskName: disk, Bitmap: name, Node: topNode.FormatNode}
		}

		if _, ok := idx.Lookup(baseNode.FormatNode, name); !ok {
			actions = append(actions,
				Add(baseNode.FormatNode, name, b.Granularity, b.Persistent, true))
		}
		actions = append(actions,
			Merge(baseNode.FormatNode, name, lineage(committed, name, idx)...))

		log.G(ctx).WithFields(log.Fields{
			"disk":   disk,
			"bitmap": name,
			"base":   baseNode.FormatNode,
		}).Debug("block commit: merging bitmap into base")
	}

	return actions, nil
}
