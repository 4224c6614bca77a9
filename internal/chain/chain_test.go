package chain

import (
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
)

func fiveLayers() []Node {
	var nodes []Node
	for i := 1; i <= 5; i++ {
		nodes = append(nodes, Node{
			Depth:       i,
			StorageNode: fmt.Sprintf("libvirt-%d-storage", i),
			FormatNode:  fmt.Sprintf("libvirt-%d-format", i),
			Format:      "qcow2",
			Path:        fmt.Sprintf("/image%d", i),
		})
	}
	return nodes
}

func TestNew(t *testing.T) {
	c, err := New(fiveLayers()...)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
	if c.Top().FormatNode != "libvirt-1-format" {
		t.Errorf("Top() = %s, want libvirt-1-format", c.Top())
	}
	if c.Base().FormatNode != "libvirt-5-format" {
		t.Errorf("Base() = %s, want libvirt-5-format", c.Base())
	}
}

func TestNewRejectsMalformedChains(t *testing.T) {
	tests := []struct {
		name  string
		nodes func() []Node
	}{
		{
			name:  "empty",
			nodes: func() []Node { return nil },
		},
		{
			name: "depth gap",
			nodes: func() []Node {
				n := fiveLayers()
				return append(n[:2], n[3:]...)
			},
		},
		{
			name: "duplicate format node",
			nodes: func() []Node {
				n := fiveLayers()
				n[3].FormatNode = n[1].FormatNode
				return n
			},
		},
		{
			name: "missing format node",
			nodes: func() []Node {
				n := fiveLayers()
				n[0].FormatNode = ""
				return n
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.nodes()...)
			if !errdefs.IsInvalidArgument(err) {
				t.Errorf("New() error = %v, want invalid argument", err)
			}
		})
	}
}

func TestNodesIsACopy(t *testing.T) {
	c, err := New(fiveLayers()...)
	if err != nil {
		t.Fatal(err)
	}
	nodes := c.Nodes()
	nodes[0].FormatNode = "modified"
	if c.Top().FormatNode != "libvirt-1-format" {
		t.Error("modifying Nodes() result changed the chain")
	}
}

func TestSub(t *testing.T) {
	c, err := New(fiveLayers()...)
	if err != nil {
		t.Fatal(err)
	}

	sub, err := c.Sub(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Len() != 3 {
		t.Errorf("Len() = %d, want 3", sub.Len())
	}
	if sub.Top().Depth != 2 || sub.Base().Depth != 4 {
		t.Errorf("view bounds = [%d..%d], want [2..4]", sub.Top().Depth, sub.Base().Depth)
	}
	if _, ok := sub.At(1); ok {
		t.Error("At(1) should be outside the view")
	}
	if _, ok := sub.At(5); ok {
		t.Error("At(5) should be outside the view")
	}
	if _, ok := sub.Lookup("libvirt-5-format"); ok {
		t.Error("Lookup should not find layers outside the view")
	}
	if n, ok := sub.Lookup("libvirt-3-format"); !ok || n.Depth != 3 {
		t.Errorf("Lookup(libvirt-3-format) = %v, %v", n, ok)
	}

	// Views keep knowledge of the real active layer.
	if sub.IsTop(sub.Top()) {
		t.Error("depth 2 must not be reported as the active layer")
	}
	if !sub.IsTop(c.Top()) {
		t.Error("depth 1 must be reported as the active layer")
	}

	for _, bounds := range [][2]int{{3, 2}, {0, 2}, {2, 6}} {
		if _, err := c.Sub(bounds[0], bounds[1]); !errdefs.IsInvalidArgument(err) {
			t.Errorf("Sub(%d, %d) error = %v, want invalid argument", bounds[0], bounds[1], err)
		}
	}
}

func TestFrom(t *testing.T) {
	c, err := New(fiveLayers()...)
	if err != nil {
		t.Fatal(err)
	}

	from := c.From(4)
	var got []int
	for _, n := range from.Nodes() {
		got = append(got, n.Depth)
	}
	if diff := cmp.Diff([]int{4, 5}, got); diff != "" {
		t.Errorf("From(4) depths mismatch (-want +got):\n%s", diff)
	}

	defer func() {
		if recover() == nil {
			t.Error("From(0) should panic")
		}
	}()
	c.From(0)
}

func TestSequence(t *testing.T) {
	c, err := New(fiveLayers()...)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := c.Sub(2, 3)
	if err != nil {
		t.Fatal(err)
	}

	seq := sub.Sequence()
	want := []string{"libvirt-2-format", "libvirt-3-format"}
	if diff := cmp.Diff(want, seq.IDs); diff != "" {
		t.Errorf("Sequence() mismatch (-want +got):\n%s", diff)
	}
	if !seq.IsNewestFirst {
		t.Error("Sequence() should be newest first")
	}
}
