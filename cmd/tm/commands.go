package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tmcore/internal/diff"
	"tmcore/internal/index"
	"tmcore/internal/repo"
	"tmcore/internal/safety"
	"tmcore/internal/vfs"
	"tmcore/internal/worktree"
	"tmcore/shared/utils"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the state directory and a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			p, err := repo.Init(a.root, cfg)
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(map[string]string{"root": a.root, "config": p})
			}
			fmt.Fprintln(a.out, "Initialized tm state in", a.root)
			return nil
		},
	}
}

func (a *app) stageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <paths...>",
		Short: "Stage the current content of paths",
		Long:  `Stages files, or every file beneath a directory. Either every path is staged or none is.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				if err := r.Index.Stage(cmd.Context(), args); err != nil {
					return err
				}
				return a.report(r.Index.Snapshot(), "Paths staged")
			})
		},
	}
}

func (a *app) unstageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage <paths...>",
		Short: "Restore staged paths to their previous classification",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				if err := r.Index.Unstage(cmd.Context(), args); err != nil {
					return err
				}
				return a.report(r.Index.Snapshot(), "Paths unstaged")
			})
		},
	}
}

// report prints msg, or the status counts in JSON mode.
func (a *app) report(snap *index.State, msg string) error {
	if a.json {
		return a.printJSON(snap.Count())
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

type statusLine struct {
	Path   safety.Path  `json:"path"`
	Status index.Status `json:"status"`
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [paths...]",
		Short: "Show how paths are classified",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				if err := r.Index.Scan(cmd.Context()); err != nil {
					return err
				}

				var lines []statusLine
				if len(args) > 0 {
					for _, input := range args {
						p, err := r.Guard.Normalize(r.Root, input)
						if err != nil {
							return err
						}
						st, err := r.Index.Status(input)
						if err != nil {
							return err
						}
						lines = append(lines, statusLine{Path: p, Status: st})
					}
				} else {
					classes := r.Index.Snapshot().Classification()
					for _, p := range utils.SortedKeys(classes) {
						lines = append(lines, statusLine{Path: p, Status: classes[p]})
					}
				}

				if a.json {
					if lines == nil {
						lines = []statusLine{}
					}
					return a.printJSON(lines)
				}
				a.printStatus(lines)
				return nil
			})
		},
	}
}

func (a *app) printStatus(lines []statusLine) {
	if len(lines) == 0 {
		fmt.Fprintln(a.out, "Nothing tracked")
		return
	}
	groups := []struct {
		status index.Status
		title  string
		mark   string
	}{
		{index.StatusStaged, "Staged:", green("+")},
		{index.StatusUnstaged, "Tracked, not staged:", yellow("~")},
		{index.StatusUntracked, "Untracked:", blue("?")},
	}
	for _, g := range groups {
		printed := false
		for _, l := range lines {
			if l.Status != g.status {
				continue
			}
			if !printed {
				fmt.Fprintln(a.out, g.title)
				printed = true
			}
			fmt.Fprintf(a.out, "\t%s %s\n", g.mark, l.Path)
		}
	}
}

func (a *app) diffCmd() *cobra.Command {
	var mode string
	var bytesOnly, summary bool

	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show changes between the working tree, the index and the baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := diff.ParseMode(mode)
			if err != nil {
				return err
			}
			spec := diff.NewSpec(m, args...)
			if bytesOnly {
				spec = spec.WithCompare(diff.CompareBytes)
			}

			return a.open(func(r *repo.Repo) error {
				res, err := r.Differ.Diff(cmd.Context(), spec)
				if err != nil {
					return err
				}
				switch {
				case a.json:
					return a.printJSON(res)
				case len(res.Entries) == 0:
					fmt.Fprintln(a.out, "No changes")
				case summary || bytesOnly:
					a.printDiff(res.Summary())
				default:
					a.printDiff(res.Format())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "index", "sides to compare (index, staged, baseline)")
	cmd.Flags().BoolVar(&bytesOnly, "bytes", false, "compare content hashes only, without line detail")
	cmd.Flags().BoolVar(&summary, "stat", false, "print one line per changed path")
	return cmd
}

func (a *app) checkpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Make the staged content the new baseline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				n, err := r.Index.Checkpoint(cmd.Context())
				if err != nil {
					return err
				}
				if a.json {
					return a.printJSON(map[string]int{"promoted": n})
				}
				if n == 0 {
					fmt.Fprintln(a.out, "Nothing staged")
					return nil
				}
				fmt.Fprintf(a.out, "Checkpoint created (%d paths)\n", n)
				return nil
			})
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Refresh the set of untracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				if err := r.Index.Scan(cmd.Context()); err != nil {
					return err
				}
				counts := r.Index.Snapshot().Count()
				if a.json {
					return a.printJSON(counts)
				}
				fmt.Fprintf(a.out, "%d untracked\n", counts[index.StatusUntracked])
				return nil
			})
		},
	}
}

func (a *app) checkPathCmd() *cobra.Command {
	var mustExist, resolve bool

	cmd := &cobra.Command{
		Use:   "check-path <path>",
		Short: "Validate a path against the working tree root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			opts := safety.Options{ResolveSymlinks: resolve, AllowAbsolute: true}
			if mustExist {
				opts.Mode = safety.MustExist
			}

			guard := safety.NewGuard(vfs.NewOSFS(), safety.WithReserved(cfg.StateDir))
			p, err := guard.NormalizeWith(a.root, args[0], opts)
			if err != nil {
				return err
			}
			if a.json {
				return a.printJSON(map[string]string{"path": string(p)})
			}
			fmt.Fprintln(a.out, p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&mustExist, "must-exist", false, "fail unless every component exists")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "print the symlink-free form")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the untracked set current until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.open(func(r *repo.Repo) error {
				fmt.Fprintln(a.out, "Watching", r.Root)
				return r.Watch(ctx)
			})
		},
	}
}

func (a *app) worktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Create and remove isolated worktrees",
	}

	var base string
	var checkout bool
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				ref, err := r.Worktrees.Create(base, args[0])
				if err != nil {
					return err
				}
				files := 0
				if checkout {
					if files, err = r.Checkout(cmd.Context(), ref); err != nil {
						return err
					}
				}
				root, err := ref.Root()
				if err != nil {
					return err
				}
				if a.json {
					return a.printJSON(map[string]any{"id": ref.ID(), "root": root, "files": files})
				}
				fmt.Fprintf(a.out, "Created worktree %s at %s\n", ref.ID(), root)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&base, "base", ".", "directory to create the worktree in, relative to the worktree root")
	createCmd.Flags().BoolVar(&checkout, "checkout", false, "write the index view of tracked files into the worktree")

	cleanupCmd := &cobra.Command{
		Use:   "cleanup <id>",
		Short: "Remove a worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				ref, err := r.Worktrees.Reclaim(args[0])
				if err != nil {
					return err
				}
				if err := r.Worktrees.Cleanup(ref); err != nil {
					return err
				}
				if a.json {
					return a.printJSON(map[string]string{"removed": args[0]})
				}
				fmt.Fprintln(a.out, "Removed worktree", args[0])
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List worktrees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				records, err := r.Worktrees.List()
				if err != nil {
					return err
				}
				if a.json {
					if records == nil {
						records = []worktree.Record{}
					}
					return a.printJSON(records)
				}
				if len(records) == 0 {
					fmt.Fprintln(a.out, "No worktrees")
					return nil
				}
				for _, rec := range records {
					fmt.Fprintf(a.out, "%s  %s  %s\n", shortID(rec.ID), rec.CreatedAt.Format(time.RFC3339), rec.Root)
				}
				return nil
			})
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget worktrees whose directory is gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.open(func(r *repo.Repo) error {
				n, err := r.Worktrees.Prune()
				if err != nil {
					return err
				}
				if a.json {
					return a.printJSON(map[string]int{"pruned": n})
				}
				fmt.Fprintf(a.out, "Pruned %d worktrees\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(createCmd, cleanupCmd, listCmd, pruneCmd)
	return cmd
}

// shortID abbreviates a worktree id for listings.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
