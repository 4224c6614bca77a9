package bitmaps

import (
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ErrorCode represents the type of planning error for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unclassified error.
	ErrCodeUnknown ErrorCode = iota
	// ErrCodeChainBroken indicates a bitmap failed the continuity check.
	ErrCodeChainBroken
	// ErrCodeBitmapNotFound indicates a required bitmap does not exist.
	ErrCodeBitmapNotFound
	// ErrCodeNodeDataMissing indicates the snapshot lacks a chain layer.
	ErrCodeNodeDataMissing
)

// String returns the string representation of an error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeChainBroken:
		return "CHAIN_BROKEN"
	case ErrCodeBitmapNotFound:
		return "BITMAP_NOT_FOUND"
	case ErrCodeNodeDataMissing:
		return "NODE_DATA_MISSING"
	default:
		return "UNKNOWN"
	}
}

// PlanError is the interface implemented by all planner errors.
type PlanError interface {
	error
	Code() ErrorCode
	Disk() string
	BitmapName() string
}

// IsErrorCode checks if an error has the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var pe PlanError
	if errors.As(err, &pe) {
		return pe.Code() == code
	}
	return false
}

// BreakReason says why a bitmap lineage is not usable.
type BreakReason int

const (
	// BreakReappeared means the bitmap is present on a layer below one
	// that lacks it.
	BreakReappeared BreakReason = iota + 1
	// BreakInconsistent means a copy of the bitmap is marked inconsistent.
	BreakInconsistent
)

func (r BreakReason) String() string {
	switch r {
	case BreakReappeared:
		return "reappears after a gap"
	case BreakInconsistent:
		return "is inconsistent"
	default:
		return "is broken"
	}
}

// ChainBrokenError indicates that a bitmap's presence pattern across the
// backing chain cannot be trusted.
type ChainBrokenError struct {
	DiskName string      // Disk label, may be empty
	Bitmap   string      // Bitmap name
	Node     string      // Format node where the violation was found
	Reason   BreakReason // Kind of violation
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("bitmap %q %s on node %s%s", e.Bitmap, e.Reason, e.Node, diskSuffix(e.DiskName))
}

// Code returns the error code for programmatic handling.
func (e *ChainBrokenError) Code() ErrorCode { return ErrCodeChainBroken }

// Disk returns the affected disk.
func (e *ChainBrokenError) Disk() string { return e.DiskName }

// BitmapName returns the affected bitmap.
func (e *ChainBrokenError) BitmapName() string { return e.Bitmap }

func (e *ChainBrokenError) Unwrap() error {
	return errdefs.ErrFailedPrecondition
}

// BitmapNotFoundError indicates a bitmap that must exist is absent.
type BitmapNotFoundError struct {
	DiskName string // Disk label, may be empty
	Bitmap   string // Bitmap name
	Node     string // Node searched; empty when the whole chain was searched
}

func (e *BitmapNotFoundError) Error() string {
	where := "backing chain"
	if e.Node != "" {
		where = "node " + e.Node
	}
	return fmt.Sprintf("bitmap %q not found in %s%s", e.Bitmap, where, diskSuffix(e.DiskName))
}

// Code returns the error code for programmatic handling.
func (e *BitmapNotFoundError) Code() ErrorCode { return ErrCodeBitmapNotFound }

// Disk returns the affected disk.
func (e *BitmapNotFoundError) Disk() string { return e.DiskName }

// BitmapName returns the affected bitmap.
func (e *BitmapNotFoundError) BitmapName() string { return e.Bitmap }

func (e *BitmapNotFoundError) Unwrap() error {
	return errdefs.ErrNotFound
}

// NodeDataMissingError lists chain layers absent from a node data snapshot.
// Planners treat such layers as having no bitmaps, so this error is only
// reported by CheckNodeData.
type NodeDataMissingError struct {
	DiskName string
	Nodes    []string
}

func (e *NodeDataMissingError) Error() string {
	return fmt.Sprintf("no bitmap data for nodes %s%s", strings.Join(e.Nodes, ", "), diskSuffix(e.DiskName))
}

// Code returns the error code for programmatic handling.
func (e *NodeDataMissingError) Code() ErrorCode { return ErrCodeNodeDataMissing }

// Disk returns the affected disk.
func (e *NodeDataMissingError) Disk() string { return e.DiskName }

// BitmapName returns an empty string; the error is not about one bitmap.
func (e *NodeDataMissingError) BitmapName() string { return "" }

func (e *NodeDataMissingError) Unwrap() error {
	return errdefs.ErrNotFound
}

func diskSuffix(disk string) string {
	if disk == "" {
		return ""
	}
	return " of disk " + disk
}
