// Package testutil provides a five-layer backing chain and bitmap snapshots
// shared by the planner tests.
//
// The chain is libvirt-1-format (active) backed by libvirt-2-format and so on
// down to libvirt-5-format. Checkpoints a, b, c, d and current were created in
// that order; a was taken while libvirt-5-format was the active layer, d while
// libvirt-2-format was.
package testutil

import (
	"fmt"
	"testing"

	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

const (
	// Granularity is the default granularity of fixture bitmaps.
	Granularity = 65536
	// CoarseGranularity is used by checkpoint c so that granularity
	// propagation is observable.
	CoarseGranularity = 131072
	// MirrorNode is the format node of the block-copy destination.
	MirrorNode = "mirror-format-node"
	// Disk is the disk label used in error messages.
	Disk = "testdisk"
)

// Checkpoints lists the fixture checkpoints oldest to newest.
var Checkpoints = []string{"a", "b", "c", "d", "current"}

// FormatNode returns the format node name of the layer at depth.
func FormatNode(depth int) string {
	return fmt.Sprintf("libvirt-%d-format", depth)
}

// Chain returns the five-layer fixture chain.
func Chain(t testing.TB) *chain.Chain {
	t.Helper()

	var nodes []chain.Node
	for i := 1; i <= 5; i++ {
		nodes = append(nodes, chain.Node{
			Depth:       i,
			StorageNode: fmt.Sprintf("libvirt-%d-storage", i),
			FormatNode:  FormatNode(i),
			Format:      "qcow2",
			Path:        fmt.Sprintf("/image%d", i),
		})
	}
	c, err := chain.New(nodes...)
	if err != nil {
		t.Fatalf("building fixture chain: %v", err)
	}
	return c
}

func checkpoint(name string, recording bool, dirty uint64) nodedata.Bitmap {
	gran := uint64(Granularity)
	if name == "c" {
		gran = CoarseGranularity
	}
	return nodedata.Bitmap{
		Name:        name,
		Recording:   recording,
		Persistent:  true,
		Granularity: gran,
		DirtyBytes:  dirty,
	}
}

// scratch is a transient bitmap left behind by a third-party tool.
func scratch() nodedata.Bitmap {
	return nodedata.Bitmap{Name: "scratch", Recording: true, Granularity: Granularity, DirtyBytes: 4096}
}

// backupJob is owned by a running backup job.
func backupJob() nodedata.Bitmap {
	return nodedata.Bitmap{Name: "backup-vda", Recording: true, Busy: true, Granularity: Granularity}
}

func emptyLayers(m map[string][]nodedata.Bitmap) map[string][]nodedata.Bitmap {
	for i := 1; i <= 5; i++ {
		if _, ok := m[FormatNode(i)]; !ok {
			m[FormatNode(i)] = nil
		}
	}
	return m
}

// Flat returns a snapshot of a disk that never had external snapshots: every
// checkpoint bitmap lives on the active layer and only the newest records.
func Flat() *nodedata.Index {
	return nodedata.New(emptyLayers(map[string][]nodedata.Bitmap{
		FormatNode(1): {
			checkpoint("a", false, 327680),
			checkpoint("b", false, 262144),
			checkpoint("c", false, 196608),
			checkpoint("d", false, 131072),
			checkpoint("current", true, 65536),
		},
	}))
}

// Synthetic is Flat with a stray copy of checkpoint a on libvirt-3-format,
// breaking a's continuity.
func Synthetic() *nodedata.Index {
	m := Flat().Clone()
	m[FormatNode(3)] = []nodedata.Bitmap{checkpoint("a", false, 0)}
	return nodedata.New(m)
}

// Layered returns a snapshot where an external snapshot was taken after each
// checkpoint. Every layer carries each checkpoint created at or below its
// depth: a on depths 1-5, b on 1-4, c on 1-3, d on 1-2 and current on 1.
// The active layer additionally carries a transient bitmap and a busy one.
func Layered() *nodedata.Index {
	return nodedata.New(map[string][]nodedata.Bitmap{
		FormatNode(1): {
			checkpoint("a", true, 65536),
			checkpoint("b", true, 65536),
			checkpoint("c", true, 131072),
			checkpoint("d", true, 65536),
			checkpoint("current", true, 65536),
			scratch(),
			backupJob(),
		},
		FormatNode(2): {
			checkpoint("a", true, 196608),
			checkpoint("b", true, 196608),
			checkpoint("c", true, 262144),
			checkpoint("d", true, 196608),
		},
		FormatNode(3): {
			checkpoint("a", true, 131072),
			checkpoint("b", true, 131072),
			checkpoint("c", true, 131072),
		},
		FormatNode(4): {
			checkpoint("a", true, 65536),
			checkpoint("b", true, 0),
		},
		FormatNode(5): {
			checkpoint("a", true, 0),
		},
	})
}

// LayeredBroken is Layered with two lineages damaged: a is missing from
// libvirt-3-format but still present below it, and d is missing from
// libvirt-2-format, the layer it was created on, while an inconsistent d
// lingers on libvirt-3-format.
func LayeredBroken() *nodedata.Index {
	m := Layered().Clone()
	m[FormatNode(2)] = []nodedata.Bitmap{
		checkpoint("a", true, 196608),
		checkpoint("b", true, 196608),
		checkpoint("c", true, 262144),
	}
	broken := checkpoint("d", false, 0)
	broken.Inconsistent = true
	m[FormatNode(3)] = []nodedata.Bitmap{
		checkpoint("b", true, 131072),
		checkpoint("c", true, 131072),
		broken,
	}
	return nodedata.New(m)
}
