// Package qmp converts between this module's types and the JSON shapes used
// by the QEMU machine protocol: query-named-block-nodes replies on the way
// in, transaction action arrays on the way out.
package qmp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/containerd/errdefs"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
)

type namedNode struct {
	NodeName     *string       `json:"node-name"`
	DirtyBitmaps []dirtyBitmap `json:"dirty-bitmaps"`
}

type dirtyBitmap struct {
	Name         string `json:"name"`
	Recording    bool   `json:"recording"`
	Busy         bool   `json:"busy"`
	Persistent   bool   `json:"persistent"`
	Inconsistent bool   `json:"inconsistent"`
	Granularity  uint64 `json:"granularity"`
	Count        uint64 `json:"count"`
}

// DecodeNamedBlockNodes reads the reply of query-named-block-nodes, either
// the bare array or wrapped in a {"return": [...]} envelope.
func DecodeNamedBlockNodes(r io.Reader) (*nodedata.Index, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading named block nodes: %w", err)
	}

	var entries []namedNode
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Return *[]namedNode `json:"return"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decoding named block nodes: %v: %w", err, errdefs.ErrInvalidArgument)
		}
		if envelope.Return == nil {
			return nil, fmt.Errorf("reply has no \"return\" member: %w", errdefs.ErrInvalidArgument)
		}
		entries = *envelope.Return
	} else if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("decoding named block nodes: %v: %w", err, errdefs.ErrInvalidArgument)
	}

	nodes := make(map[string][]nodedata.Bitmap, len(entries))
	for i, e := range entries {
		if e.NodeName == nil || *e.NodeName == "" {
			return nil, fmt.Errorf("entry %d has no node-name: %w", i, errdefs.ErrInvalidArgument)
		}
		bms := make([]nodedata.Bitmap, 0, len(e.DirtyBitmaps))
		for _, b := range e.DirtyBitmaps {
			bms = append(bms, nodedata.Bitmap{
				Name:         b.Name,
				Recording:    b.Recording,
				Busy:         b.Busy,
				Persistent:   b.Persistent,
				Inconsistent: b.Inconsistent,
				Granularity:  b.Granularity,
				DirtyBytes:   b.Count,
			})
		}
		// The same node may be listed more than once when it is attached
		// to several block backends; the bitmaps are identical.
		if _, ok := nodes[*e.NodeName]; !ok {
			nodes[*e.NodeName] = bms
		}
	}

	return nodedata.New(nodes), nil
}

// Command is one member of a QMP transaction.
type Command struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type bitmapArgs struct {
	Node string `json:"node"`
	Name string `json:"name"`
}

type addArgs struct {
	Node        string `json:"node"`
	Name        string `json:"name"`
	Persistent  bool   `json:"persistent"`
	Disabled    bool   `json:"disabled"`
	Granularity uint64 `json:"granularity"`
}

type mergeArgs struct {
	Node    string       `json:"node"`
	Target  string       `json:"target"`
	Bitmaps []bitmapArgs `json:"bitmaps"`
}

// Commands converts planner actions into transaction members.
func Commands(actions []bitmaps.Action) ([]Command, error) {
	cmds := make([]Command, 0, len(actions))
	for _, a := range actions {
		var cmd Command
		switch a.Kind {
		case bitmaps.ActionAdd:
			cmd = Command{Type: "block-dirty-bitmap-add", Data: addArgs{
				Node:        a.Node,
				Name:        a.Bitmap,
				Persistent:  a.Persistent,
				Disabled:    a.Disabled,
				Granularity: a.Granularity,
			}}
		case bitmaps.ActionDisable:
			cmd = Command{Type: "block-dirty-bitmap-disable", Data: bitmapArgs{Node: a.Node, Name: a.Bitmap}}
		case bitmaps.ActionEnable:
			cmd = Command{Type: "block-dirty-bitmap-enable", Data: bitmapArgs{Node: a.Node, Name: a.Bitmap}}
		case bitmaps.ActionRemove:
			cmd = Command{Type: "block-dirty-bitmap-remove", Data: bitmapArgs{Node: a.Node, Name: a.Bitmap}}
		case bitmaps.ActionMerge:
			cmd = Command{Type: "block-dirty-bitmap-merge", Data: mergeArgs{
				Node:    a.Node,
				Target:  a.Bitmap,
				Bitmaps: sources(a.Sources),
			}}
		default:
			return nil, fmt.Errorf("unknown action kind %v: %w", a.Kind, errdefs.ErrInvalidArgument)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func sources(refs []bitmaps.Ref) []bitmapArgs {
	out := make([]bitmapArgs, len(refs))
	for i, r := range refs {
		out[i] = bitmapArgs{Node: r.Node, Name: r.Bitmap}
	}
	return out
}

// EncodeTransaction writes actions as an indented JSON transaction array.
func EncodeTransaction(w io.Writer, actions []bitmaps.Action) error {
	cmds, err := Commands(actions)
	if err != nil {
		return err
	}
	return encode(w, cmds)
}

// EncodeSources writes an incremental backup source list as the "bitmaps"
// argument of block-dirty-bitmap-merge.
func EncodeSources(w io.Writer, refs []bitmaps.Ref) error {
	return encode(w, sources(refs))
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
