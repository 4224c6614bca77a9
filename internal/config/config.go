// Package config loads disk descriptions used by bitmapctl.
//
// A disk description is a TOML file naming the layers of the backing chain,
// top to base, the checkpoint history and the captured node data:
//
//	disk = "vda"
//	node-data = "snapshots.json"
//	mirror = "mirror-format-node"
//	checkpoints = ["a", "b", "c", "d", "current"]
//
//	[[layers]]
//	format-node = "libvirt-1-format"
//	storage-node = "libvirt-1-storage"
//	format = "qcow2"
//	path = "/image1"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
	"github.com/spin-stack/bitmap-planner/internal/qmp"
)

// DefaultMirror is the mirror node used when a description does not set one.
const DefaultMirror = "mirror-format-node"

// Layer describes one image of the backing chain.
type Layer struct {
	FormatNode  string `toml:"format-node"`
	StorageNode string `toml:"storage-node"`
	Format      string `toml:"format"`
	Path        string `toml:"path"`
}

// Disk is a decoded disk description.
type Disk struct {
	Name string `toml:"disk"`
	// NodeData is the path of a captured query-named-block-nodes reply.
	// Relative paths are resolved against the description's directory.
	NodeData string `toml:"node-data"`
	// Mirror is the format node of a block-copy destination.
	Mirror string `toml:"mirror"`
	// Checkpoints lists checkpoint names oldest to newest.
	Checkpoints []string `toml:"checkpoints"`
	Layers      []Layer  `toml:"layers"`
}

// Load decodes the disk description at path. Unknown keys are rejected.
func Load(path string) (*Disk, error) {
	var d Disk
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("failed to parse disk description %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("disk description %q has unknown keys %s: %w",
			path, strings.Join(keys, ", "), errdefs.ErrInvalidArgument)
	}

	if d.NodeData != "" && !filepath.IsAbs(d.NodeData) {
		d.NodeData = filepath.Join(filepath.Dir(path), d.NodeData)
	}
	if d.Mirror == "" {
		d.Mirror = DefaultMirror
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("invalid disk description %q: %w", path, err)
	}
	return &d, nil
}

func (d *Disk) validate() error {
	if d.Name == "" {
		return fmt.Errorf("disk name is required: %w", errdefs.ErrInvalidArgument)
	}
	if len(d.Layers) == 0 {
		return fmt.Errorf("at least one layer is required: %w", errdefs.ErrInvalidArgument)
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, name := range d.Checkpoints {
		if name == "" {
			return fmt.Errorf("empty checkpoint name: %w", errdefs.ErrInvalidArgument)
		}
		if !seen.Add(name) {
			return fmt.Errorf("checkpoint %q listed twice: %w", name, errdefs.ErrInvalidArgument)
		}
	}
	return nil
}

// Chain builds the backing chain described by the layers.
func (d *Disk) Chain() (*chain.Chain, error) {
	nodes := make([]chain.Node, len(d.Layers))
	for i, l := range d.Layers {
		nodes[i] = chain.Node{
			Depth:       i + 1,
			StorageNode: l.StorageNode,
			FormatNode:  l.FormatNode,
			Format:      l.Format,
			Path:        l.Path,
		}
	}
	return chain.New(nodes...)
}

// LoadNodeData decodes the captured node data referenced by the description.
func (d *Disk) LoadNodeData() (*nodedata.Index, error) {
	if d.NodeData == "" {
		return nil, fmt.Errorf("disk %s has no node-data file: %w", d.Name, errdefs.ErrInvalidArgument)
	}
	f, err := os.Open(d.NodeData)
	if err != nil {
		return nil, fmt.Errorf("failed to open node data: %w", err)
	}
	defer f.Close()

	idx, err := qmp.DecodeNamedBlockNodes(f)
	if err != nil {
		return nil, fmt.Errorf("node data %q: %w", d.NodeData, err)
	}
	return idx, nil
}

// Parent returns the checkpoint preceding name in the history, or "" when
// name is the oldest one.
func (d *Disk) Parent(name string) (string, error) {
	for i, c := range d.Checkpoints {
		if c != name {
			continue
		}
		if i == 0 {
			return "", nil
		}
		return d.Checkpoints[i-1], nil
	}
	return "", fmt.Errorf("checkpoint %q is not part of disk %s: %w", name, d.Name, errdefs.ErrNotFound)
}

// Range returns the checkpoints covered by an incremental backup since from,
// newest first.
func (d *Disk) Range(from string) ([]string, error) {
	return bitmaps.CheckpointRange(d.Checkpoints, from)
}
