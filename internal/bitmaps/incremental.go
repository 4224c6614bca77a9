package bitmaps

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// CheckpointRange returns the checkpoints an incremental backup starting at
// from has to cover, newest first and ending with from. history is ordered
// oldest to newest.
func CheckpointRange(history []string, from string) ([]string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != from {
			continue
		}
		out := make([]string, 0, len(history)-i)
		for j := len(history) - 1; j >= i; j-- {
			out = append(out, history[j])
		}
		return out, nil
	}
	return nil, fmt.Errorf("checkpoint %q is not part of the checkpoint history: %w", from, errdefs.ErrInvalidArgument)
}

// PlanIncrementalMerge picks, for every checkpoint of the range, the bitmap
// that holds its tracked writes. checkpoints is ordered newest first, as
// returned by CheckpointRange.
//
// Every checkpoint must pass ChainIsValid on c, otherwise the plan fails with
// a *ChainBrokenError; deeper copies below a gap are never used. The source
// is the shallowest layer holding the bitmap. The caller creates a scratch
// bitmap and merges every returned source into it.
func PlanIncrementalMerge(ctx context.Context, checkpoints []string, c *chain.Chain, idx *nodedata.Index, disk string) ([]Ref, error) {
	seen := mapset.NewThreadUnsafeSet[Ref]()
	sources := make([]Ref, 0, len(checkpoints))

	for _, name := range checkpoints {
		src, err := incrementalSource(c, name, idx, disk)
		if err != nil {
			return nil, err
		}
		if !seen.Add(src) {
			continue
		}
		log.G(ctx).WithFields(log.Fields{
			"disk":       disk,
			"checkpoint": name,
			"node":       src.Node,
		}).Debug("incremental backup: selected bitmap source")
		sources = append(sources, src)
	}

	return sources, nil
}

func incrementalSource(c *chain.Chain, name string, idx *nodedata.Index, disk string) (Ref, error) {
	if broken := checkChain(c, name, idx); broken != nil {
		broken.DiskName = disk
		return Ref{}, broken
	}
	// A valid lineage that exists at all starts at the top of c.
	for _, n := range c.Nodes() {
		if _, ok := idx.Lookup(n.FormatNode, name); ok {
			return Ref{Node: n.FormatNode, Bitmap: name}, nil
		}
	}
	return Ref{}, &BitmapNotFoundError{DiskName: disk, Bitmap: name}
}
