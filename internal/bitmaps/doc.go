// Package bitmaps plans the dirty bitmap operations required by checkpoint
// based incremental backup and by block jobs on a disk's backing chain.
//
// Every planner is a pure function of a [chain.Chain] and a
// [nodedata.Index] snapshot. Planners never talk to the backend; they return
// a list of [Action] values that the caller hands to a transaction sink which
// applies them atomically. A fresh snapshot must be taken for every call if
// the backend state may have changed in between.
//
// # Bitmap Lineage
//
// A checkpoint bitmap is created on the layer that is active when the
// checkpoint is taken. When an external snapshot adds a new overlay, the
// bitmap is carried to it, so a healthy bitmap is present on a contiguous run
// of layers starting at the top and absent on the older layers below:
//
//	depth 1  current d c b a   <- active layer
//	depth 2          d c b a
//	depth 3            c b a
//	depth 4              b a
//	depth 5                a   <- base
//
// A bitmap that disappears and then shows up again deeper in the chain, or
// any inconsistent copy, makes the lineage untrustworthy. See [ChainIsValid].
//
// # Planners
//
//	PlanIncrementalMerge   which bitmaps to merge for a backup since a checkpoint
//	PlanCheckpointDeletion fold a deleted checkpoint into its parent, per layer
//	PlanBlockCopy          recreate bitmaps on a block-copy mirror
//	PlanBlockCommitStart   disable bitmaps before a block-commit runs
//	PlanBlockCommitFinish  merge them into the commit base afterwards
//
// Only the active layer is writable. Actions targeting backing layers require
// the caller to reopen those layers read-write first; the checkpoint deletion
// plan lists them in [DeletionPlan.Reopen].
//
// # Error Types
//
//   - [ChainBrokenError]: a required bitmap failed the lineage check
//   - [BitmapNotFoundError]: a required bitmap does not exist
//   - [NodeDataMissingError]: the snapshot lacks layers of the chain
//
// All three unwrap to errdefs classes, and [IsErrorCode] matches on [ErrorCode].
package bitmaps
