package bitmaps

import (
	"fmt"
	"strings"
)

// ActionKind identifies the operation performed by an Action.
type ActionKind int

const (
	ActionAdd ActionKind = iota + 1
	ActionDisable
	ActionEnable
	ActionRemove
	ActionMerge
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionDisable:
		return "disable"
	case ActionEnable:
		return "enable"
	case ActionRemove:
		return "remove"
	case ActionMerge:
		return "merge"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Ref names one bitmap on one node.
type Ref struct {
	Node   string
	Bitmap string
}

func (r Ref) String() string {
	return r.Node + "/" + r.Bitmap
}

// Action is one step of a bitmap transaction. Which fields are meaningful
// depends on Kind:
//
//	Add:     Node, Bitmap, Granularity, Persistent, Disabled
//	Disable: Node, Bitmap
//	Enable:  Node, Bitmap
//	Remove:  Node, Bitmap
//	Merge:   Node, Bitmap (target), Sources
type Action struct {
	Kind        ActionKind
	Node        string
	Bitmap      string
	Granularity uint64
	Persistent  bool
	Disabled    bool
	Sources     []Ref
}

// Add creates a bitmap.
func Add(node, bitmap string, granularity uint64, persistent, disabled bool) Action {
	return Action{
		Kind:        ActionAdd,
		Node:        node,
		Bitmap:      bitmap,
		Granularity: granularity,
		Persistent:  persistent,
		Disabled:    disabled,
	}
}

// Disable stops a bitmap from recording writes.
func Disable(node, bitmap string) Action {
	return Action{Kind: ActionDisable, Node: node, Bitmap: bitmap}
}

// Enable makes a bitmap record writes.
func Enable(node, bitmap string) Action {
	return Action{Kind: ActionEnable, Node: node, Bitmap: bitmap}
}

// Remove deletes a bitmap.
func Remove(node, bitmap string) Action {
	return Action{Kind: ActionRemove, Node: node, Bitmap: bitmap}
}

// Merge ORs every source bitmap into node/bitmap.
func Merge(node, bitmap string, sources ...Ref) Action {
	return Action{
		Kind:    ActionMerge,
		Node:    node,
		Bitmap:  bitmap,
		Sources: append([]Ref(nil), sources...),
	}
}

// Target returns the bitmap the action writes to.
func (a Action) Target() Ref {
	return Ref{Node: a.Node, Bitmap: a.Bitmap}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionAdd:
		return fmt.Sprintf("add %s/%s granularity=%d persistent=%t disabled=%t",
			a.Node, a.Bitmap, a.Granularity, a.Persistent, a.Disabled)
	case ActionMerge:
		srcs := make([]string, len(a.Sources))
		for i, s := range a.Sources {
			srcs[i] = s.String()
		}
		return fmt.Sprintf("merge %s <- %s", a.Target(), strings.Join(srcs, ", "))
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.Target())
	}
}
