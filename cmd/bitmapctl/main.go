/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/spin-stack/bitmap-planner/internal/bitmaps"
	"github.com/spin-stack/bitmap-planner/internal/chain"
	"github.com/spin-stack/bitmap-planner/internal/config"
	"github.com/spin-stack/bitmap-planner/internal/nodedata"
	"github.com/spin-stack/bitmap-planner/internal/qmp"
	"github.com/spin-stack/bitmap-planner/internal/txn"
)

// Version information - set via ldflags at build time
var (
	version   = "dev"
	gitCommit = "unknown"
)

const (
	outputJSON = "json"
	outputText = "text"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "bitmapctl",
		Usage:   "Plan dirty bitmap transactions for a disk backing chain (dry run)",
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Disk description (TOML)",
				EnvVars: []string{"BITMAPCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format (json, text)",
				Value:   outputJSON,
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail when the node data lacks layers of the chain",
			},
		},
		Before: func(cliCtx *cli.Context) error {
			if err := log.SetLevel(cliCtx.String("log-level")); err != nil {
				return err
			}
			switch cliCtx.String("output") {
			case outputJSON, outputText:
				return nil
			default:
				return fmt.Errorf("unknown output format %q", cliCtx.String("output"))
			}
		},
		Commands: []*cli.Command{
			showCommand,
			validateCommand,
			incrementalCommand,
			deleteCheckpointCommand,
			copyCommand,
			commitCommand,
			checkCommand,
		},
	}
}

// session is a loaded disk description with its chain and node data.
type session struct {
	disk  *config.Disk
	chain *chain.Chain
	index *nodedata.Index
}

func load(ctx context.Context, path string, strict bool) (*session, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required: %w", errdefs.ErrInvalidArgument)
	}
	disk, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c, err := disk.Chain()
	if err != nil {
		return nil, fmt.Errorf("disk %s: %w", disk.Name, err)
	}
	idx, err := disk.LoadNodeData()
	if err != nil {
		return nil, err
	}

	if err := bitmaps.CheckNodeData(c, idx, disk.Name); err != nil {
		if strict {
			return nil, err
		}
		log.G(ctx).WithError(err).Warn("node data is incomplete, assuming no bitmaps on missing layers")
	}

	return &session{disk: disk, chain: c, index: idx}, nil
}

func loadFromContext(cliCtx *cli.Context) (*session, error) {
	return load(cliCtx.Context, cliCtx.String("config"), cliCtx.Bool("strict"))
}

// chainNames returns every bitmap name present on the chain, in order of
// first appearance walking from the top.
func chainNames(c *chain.Chain, idx *nodedata.Index) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var names []string
	for _, n := range c.Nodes() {
		for _, b := range idx.Bitmaps(n.FormatNode) {
			if seen.Add(b.Name) {
				names = append(names, b.Name)
			}
		}
	}
	return names
}

func writeActions(w io.Writer, format string, actions []bitmaps.Action) error {
	if format == outputJSON {
		return qmp.EncodeTransaction(w, actions)
	}
	for _, a := range actions {
		if _, err := fmt.Fprintln(w, a); err != nil {
			return err
		}
	}
	return nil
}

var showCommand = &cli.Command{
	Name:  "show",
	Usage: "Print the bitmaps of every layer, base image first",
	Action: func(cliCtx *cli.Context) error {
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		return s.index.Format(cliCtx.App.Writer, s.chain.Sequence().OldestFirst().IDs...)
	},
}

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check the lineage of bitmaps across the chain",
	ArgsUsage: "[NAME...]",
	Action: func(cliCtx *cli.Context) error {
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		names := cliCtx.Args().Slice()
		if len(names) == 0 {
			names = chainNames(s.chain, s.index)
		}

		var broken int
		for _, name := range names {
			status := "valid"
			if err := bitmaps.CheckChain(s.chain, name, s.index); err != nil {
				status = err.Error()
				broken++
			}
			fmt.Fprintf(cliCtx.App.Writer, "%s: %s\n", name, status)
		}
		if broken > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d bitmaps are broken", broken, len(names)), 2)
		}
		return nil
	},
}

var incrementalCommand = &cli.Command{
	Name:  "incremental",
	Usage: "Select the bitmaps to merge for an incremental backup",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "from",
			Usage:    "Checkpoint the backup starts from",
			Required: true,
		},
	},
	Action: func(cliCtx *cli.Context) error {
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		checkpoints, err := s.disk.Range(cliCtx.String("from"))
		if err != nil {
			return err
		}
		refs, err := bitmaps.PlanIncrementalMerge(cliCtx.Context, checkpoints, s.chain, s.index, s.disk.Name)
		if err != nil {
			return err
		}
		if cliCtx.String("output") == outputJSON {
			return qmp.EncodeSources(cliCtx.App.Writer, refs)
		}
		for _, r := range refs {
			fmt.Fprintln(cliCtx.App.Writer, r)
		}
		return nil
	},
}

var deleteCheckpointCommand = &cli.Command{
	Name:  "delete-checkpoint",
	Usage: "Plan the bitmap changes for deleting a checkpoint",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "name",
			Usage:    "Checkpoint to delete",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "parent",
			Usage: "Checkpoint receiving the deleted one's data (default: previous in history)",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		name := cliCtx.String("name")
		parent := cliCtx.String("parent")
		if !cliCtx.IsSet("parent") {
			if parent, err = s.disk.Parent(name); err != nil {
				return err
			}
		}

		plan, err := bitmaps.PlanCheckpointDeletion(cliCtx.Context, s.chain, s.index, name, parent, s.disk.Name)
		if err != nil {
			return err
		}
		if err := writeActions(cliCtx.App.Writer, cliCtx.String("output"), plan.Actions); err != nil {
			return err
		}
		if len(plan.Reopen) > 0 {
			fmt.Fprintln(cliCtx.App.Writer, "reopen nodes:")
			for _, n := range plan.Reopen {
				fmt.Fprintln(cliCtx.App.Writer, n.FormatNode)
			}
		}
		return nil
	},
}

var copyCommand = &cli.Command{
	Name:  "copy",
	Usage: "Plan the bitmaps to create on a block-copy mirror",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "mirror",
			Usage: "Format node of the mirror (default: from the disk description)",
		},
		&cli.BoolFlag{
			Name:  "shallow",
			Usage: "The mirror keeps the existing backing chain",
		},
	},
	Action: func(cliCtx *cli.Context) error {
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		mirror := s.disk.Mirror
		if cliCtx.IsSet("mirror") {
			mirror = cliCtx.String("mirror")
		}
		actions := bitmaps.PlanBlockCopy(cliCtx.Context, s.chain, mirror, s.index, cliCtx.Bool("shallow"))
		return writeActions(cliCtx.App.Writer, cliCtx.String("output"), actions)
	},
}

var commitCommand = &cli.Command{
	Name:  "commit",
	Usage: "Plan the bitmap changes around a block-commit",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "top",
			Usage: "Depth of the top layer to commit",
			Value: 1,
		},
		&cli.IntFlag{
			Name:     "base",
			Usage:    "Depth of the layer committed into",
			Required: true,
		},
	},
	Action: func(cliCtx *cli.Context) error {
		ctx := cliCtx.Context
		s, err := loadFromContext(cliCtx)
		if err != nil {
			return err
		}
		top, base := cliCtx.Int("top"), cliCtx.Int("base")

		start, err := bitmaps.PlanBlockCommitStart(ctx, s.chain, top, base, s.index, s.disk.Name)
		if err != nil {
			return err
		}

		// Finish is planned against the state the start transaction leaves.
		sink := txn.NewMemory(s.chain, s.index)
		if err := sink.Apply(ctx, txn.Transaction{Actions: start.Actions}); err != nil {
			return fmt.Errorf("simulating block commit start: %w", err)
		}
		finish, err := bitmaps.PlanBlockCommitFinish(ctx, s.chain, top, base, sink.Snapshot(), start.Disabled, s.disk.Name)
		if err != nil {
			return err
		}

		out := cliCtx.App.Writer
		format := cliCtx.String("output")
		fmt.Fprintln(out, "pre job bitmap disable:")
		if err := writeActions(out, format, start.Actions); err != nil {
			return err
		}
		if len(start.Busy) > 0 {
			fmt.Fprintf(out, "busy bitmaps left enabled: %v\n", start.Busy)
		}
		fmt.Fprintln(out, "merge bitmaps:")
		return writeActions(out, format, finish)
	},
}

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "Validate every checkpoint of several disks concurrently",
	ArgsUsage: "CONFIG...",
	Action: func(cliCtx *cli.Context) error {
		paths := cliCtx.Args().Slice()
		if len(paths) == 0 {
			return fmt.Errorf("at least one disk description is required: %w", errdefs.ErrInvalidArgument)
		}

		results := make([][]string, len(paths))
		g, ctx := errgroup.WithContext(cliCtx.Context)
		for i, path := range paths {
			i, path := i, path
			g.Go(func() error {
				s, err := load(ctx, path, cliCtx.Bool("strict"))
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results[i] = checkDisk(ctx, s)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var problems []string
		for _, r := range results {
			problems = append(problems, r...)
		}
		sort.Strings(problems)
		for _, p := range problems {
			fmt.Fprintln(cliCtx.App.Writer, p)
		}
		if len(problems) > 0 {
			return cli.Exit(fmt.Sprintf("%d problems found", len(problems)), 2)
		}
		fmt.Fprintf(cliCtx.App.Writer, "%d disks ok\n", len(paths))
		return nil
	},
}

// checkDisk reports every checkpoint of the disk that an incremental backup
// could not be computed from.
func checkDisk(ctx context.Context, s *session) []string {
	var problems []string
	for _, name := range s.disk.Checkpoints {
		_, err := bitmaps.PlanIncrementalMerge(ctx, []string{name}, s.chain, s.index, s.disk.Name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", s.disk.Name, err))
		}
	}
	return problems
}
