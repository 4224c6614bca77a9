// Package txn applies bitmap plans. The backend that executes transactions
// against a running disk lives outside this module; Memory applies them to
// a node data snapshot instead, for dry runs and tests.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

// Transaction is an ordered list of actions applied all-or-nothing.
type Transaction struct {
	Actions []bitmaps.Action
	// Reopen names backing format nodes made writable for the transaction.
	Reopen []string
}

// ReopenNodes converts planner reopen sets into format node names.
func ReopenNodes(nodes []chain.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.FormatNode
	}
	return out
}

// Sink applies transactions atomically: either every action takes effect or
// none does.
type Sink interface {
	Apply(ctx context.Context, tx Transaction) error
}

// Memory is a Sink operating on an in-memory snapshot. Backing layers of the
// chain are read-only unless reopened by the transaction; nodes outside the
// chain, such as a mirror, are writable.
type Memory struct {
	mu    sync.Mutex
	chain *chain.Chain
	state *nodedata.Index
}

var _ Sink = (*Memory)(nil)

// NewMemory returns a sink starting from the given snapshot.
func NewMemory(c *chain.Chain, idx *nodedata.Index) *Memory {
	return &Memory{chain: c, state: nodedata.New(idx.Clone())}
}

// Snapshot returns the current state.
func (m *Memory) Snapshot() *nodedata.Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply implements Sink.
func (m *Memory) Apply(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w := &working{
		nodes:    m.state.Clone(),
		chain:    m.chain,
		writable: mapset.NewThreadUnsafeSet[string](tx.Reopen...),
	}
	for i, a := range tx.Actions {
		if err := w.apply(a); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a, err)
		}
	}

	m.state = nodedata.New(w.nodes)
	return nil
}

type working struct {
	nodes    map[string][]nodedata.Bitmap
	chain    *chain.Chain
	writable mapset.Set[string]
}

func (w *working) find(node, name string) (int, error) {
	for i, b := range w.nodes[node] {
		if b.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("bitmap %s/%s: %w", node, name, errdefs.ErrNotFound)
}

func (w *working) checkWritable(node string) error {
	n, inChain := w.chain.Lookup(node)
	if !inChain || w.chain.IsTop(n) || w.writable.Contains(node) {
		return nil
	}
	return fmt.Errorf("node %s is read-only: %w", node, errdefs.ErrFailedPrecondition)
}

func (w *working) apply(a bitmaps.Action) error {
	if err := w.checkWritable(a.Node); err != nil {
		return err
	}

	switch a.Kind {
	case bitmaps.ActionAdd:
		if _, err := w.find(a.Node, a.Bitmap); err == nil {
			return fmt.Errorf("bitmap %s: %w", a.Target(), errdefs.ErrAlreadyExists)
		}
		if a.Granularity == 0 {
			return fmt.Errorf("bitmap %s has no granularity: %w", a.Target(), errdefs.ErrInvalidArgument)
		}
		w.nodes[a.Node] = append(w.nodes[a.Node], nodedata.Bitmap{
			Name:        a.Bitmap,
			Recording:   !a.Disabled,
			Persistent:  a.Persistent,
			Granularity: a.Granularity,
		})

	case bitmaps.ActionDisable, bitmaps.ActionEnable:
		i, err := w.find(a.Node, a.Bitmap)
		if err != nil {
			return err
		}
		w.nodes[a.Node][i].Recording = a.Kind == bitmaps.ActionEnable

	case bitmaps.ActionRemove:
		i, err := w.find(a.Node, a.Bitmap)
		if err != nil {
			return err
		}
		if w.nodes[a.Node][i].Busy {
			return fmt.Errorf("bitmap %s is busy: %w", a.Target(), errdefs.ErrFailedPrecondition)
		}
		bms := w.nodes[a.Node]
		w.nodes[a.Node] = append(bms[:i:i], bms[i+1:]...)

	case bitmaps.ActionMerge:
		ti, err := w.find(a.Node, a.Bitmap)
		if err != nil {
			return err
		}
		target := &w.nodes[a.Node][ti]
		if err := usable(*target, a.Target()); err != nil {
			return err
		}
		if len(a.Sources) == 0 {
			return fmt.Errorf("merge into %s has no sources: %w", a.Target(), errdefs.ErrInvalidArgument)
		}
		dirty := target.DirtyBytes
		for _, src := range a.Sources {
			si, err := w.find(src.Node, src.Bitmap)
			if err != nil {
				return err
			}
			sb := w.nodes[src.Node][si]
			if err := usable(sb, src); err != nil {
				return err
			}
			dirty = max(dirty, sb.DirtyBytes)
		}
		// Without block data the union size is unknown; the largest
		// operand is a lower bound.
		target.DirtyBytes = dirty

	default:
		return fmt.Errorf("unknown action kind %v: %w", a.Kind, errdefs.ErrInvalidArgument)
	}
	return nil
}

func usable(b nodedata.Bitmap, ref bitmaps.Ref) error {
	if b.Inconsistent {
		return fmt.Errorf("bitmap %s is inconsistent: %w", ref, errdefs.ErrFailedPrecondition)
	}
	if b.Busy {
		return fmt.Errorf("bitmap %s is busy: %w", ref, errdefs.ErrFailedPrecondition)
	}
	return nil
}
