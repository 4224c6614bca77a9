package bitmaps_test

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
	"github.com/spin-stack/bitmap-planner/internal/testutil"
	"github.com/spin-stack/bitmap-planner/internal/txn"
)

const layers = 5

func TestChainIsValidProperty(t *testing.T) {
	c := testutil.Chain(t)

	rapid.Check(t, func(t *rapid.T) {
		nodes := make(map[string][]nodedata.Bitmap, layers)
		present := make([]bool, layers)
		inconsistent := false
		for i := range present {
			present[i] = rapid.Bool().Draw(t, fmt.Sprintf("present%d", i+1))
			if !present[i] {
				nodes[testutil.FormatNode(i+1)] = nil
				continue
			}
			b := nodedata.Bitmap{Name: "x", Persistent: true, Granularity: testutil.Granularity}
			b.Inconsistent = rapid.Bool().Draw(t, fmt.Sprintf("inconsistent%d", i+1))
			inconsistent = inconsistent || b.Inconsistent
			nodes[testutil.FormatNode(i+1)] = []nodedata.Bitmap{b}
		}

		contiguous := true
		for i := 1; i < layers; i++ {
			if present[i] && !present[i-1] {
				contiguous = false
			}
		}

		want := contiguous && !inconsistent
		if got := bitmaps.ChainIsValid(c, "x", nodedata.New(nodes)); got != want {
			t.Fatalf("ChainIsValid() = %v, want %v for presence %v", got, want, present)
		}
	})
}

// prefix places name on depths 1 through n.
func prefix(nodes map[string][]nodedata.Bitmap, name string, n int, recording bool) {
	for d := 1; d <= n; d++ {
		node := testutil.FormatNode(d)
		nodes[node] = append(nodes[node], nodedata.Bitmap{
			Name:        name,
			Recording:   recording,
			Persistent:  true,
			Granularity: testutil.Granularity,
			DirtyBytes:  uint64(d) * testutil.Granularity,
		})
	}
}

func TestCheckpointDeletionKeepsParentValid(t *testing.T) {
	c := testutil.Chain(t)
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		parentDepth := rapid.IntRange(0, layers).Draw(t, "parentDepth")
		deletedDepth := rapid.IntRange(0, layers).Draw(t, "deletedDepth")

		nodes := make(map[string][]nodedata.Bitmap, layers)
		prefix(nodes, "x", parentDepth, rapid.Bool().Draw(t, "parentRecording"))
		prefix(nodes, "y", deletedDepth, rapid.Bool().Draw(t, "deletedRecording"))
		idx := nodedata.New(nodes)

		plan, err := bitmaps.PlanCheckpointDeletion(ctx, c, idx, "y", "x", testutil.Disk)
		if err != nil {
			t.Fatal(err)
		}

		sink := txn.NewMemory(c, idx)
		tx := txn.Transaction{Actions: plan.Actions, Reopen: txn.ReopenNodes(plan.Reopen)}
		if err := sink.Apply(ctx, tx); err != nil {
			t.Fatalf("applying deletion plan: %v", err)
		}
		after := sink.Snapshot()

		if !bitmaps.ChainIsValid(c, "x", after) {
			t.Fatal("parent lineage broken after deletion")
		}
		for d := 1; d <= max(parentDepth, deletedDepth); d++ {
			if _, ok := after.Lookup(testutil.FormatNode(d), "x"); !ok {
				t.Fatalf("parent missing on depth %d", d)
			}
		}
		for d := 1; d <= layers; d++ {
			if _, ok := after.Lookup(testutil.FormatNode(d), "y"); ok {
				t.Fatalf("deleted bitmap still present on depth %d", d)
			}
		}
	})
}

func TestShallowCopyAddsEachCandidateOnce(t *testing.T) {
	c := testutil.Chain(t)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "bitmaps")
		top := make([]nodedata.Bitmap, n)
		candidates := 0
		for i := range top {
			top[i] = nodedata.Bitmap{
				Name:         fmt.Sprintf("b%d", i),
				Recording:    rapid.Bool().Draw(t, "recording"),
				Busy:         rapid.Bool().Draw(t, "busy"),
				Persistent:   rapid.Bool().Draw(t, "persistent"),
				Inconsistent: rapid.Bool().Draw(t, "inconsistent"),
				Granularity:  testutil.Granularity,
			}
			if top[i].Persistent && !top[i].Inconsistent {
				candidates++
			}
		}
		idx := nodedata.New(map[string][]nodedata.Bitmap{testutil.FormatNode(1): top})

		actions := bitmaps.PlanBlockCopy(context.Background(), c, testutil.MirrorNode, idx, true)

		adds := make(map[string]int)
		for i, a := range actions {
			if a.Node != testutil.MirrorNode {
				t.Fatalf("action %d targets %s, want the mirror", i, a.Node)
			}
			switch a.Kind {
			case bitmaps.ActionAdd:
				adds[a.Bitmap]++
			case bitmaps.ActionMerge:
				if len(a.Sources) != 1 || a.Sources[0].Node != testutil.FormatNode(1) {
					t.Fatalf("shallow merge %s has sources %v", a.Bitmap, a.Sources)
				}
			default:
				t.Fatalf("unexpected action %s", a)
			}
		}
		if len(adds) != candidates {
			t.Fatalf("got %d added bitmaps, want %d", len(adds), candidates)
		}
		for name, count := range adds {
			if count != 1 {
				t.Fatalf("bitmap %s added %d times", name, count)
			}
		}
	})
}
