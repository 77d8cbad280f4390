// Command tm stages paths, diffs a working tree against its index and
// manages isolated worktrees.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tmcore/internal/config"
	"tmcore/internal/errors"
	"tmcore/internal/logging"
	"tmcore/internal/repo"
)

// app holds the state shared by every command of one invocation.
type app struct {
	root     string
	stateDir string
	json     bool
	logLevel string

	out    io.Writer
	errOut io.Writer
	logger *zap.Logger
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut, logger: logging.Nop().Logger}

	rootCmd := &cobra.Command{
		Use:   "tm",
		Short: "tm tracks staged content and diffs a working tree against it",
		Long: `tm keeps a content-addressed index of staged files, reports line-level
differences between the working tree, the index and the last checkpoint, and
creates isolated worktrees.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.root, "root", "C", "", "working tree root (default: current directory)")
	flags.StringVar(&a.stateDir, "state-dir", "", "state directory name below the root (default: .tm)")
	flags.BoolVar(&a.json, "json", false, "print machine readable output")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		a.initCmd(),
		a.stageCmd(),
		a.unstageCmd(),
		a.statusCmd(),
		a.diffCmd(),
		a.checkpointCmd(),
		a.scanCmd(),
		a.checkPathCmd(),
		a.watchCmd(),
		a.worktreeCmd(),
	)
	return rootCmd, a
}

func (a *app) setup() error {
	if a.root == "" {
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		a.root = dir
	}
	abs, err := filepath.Abs(a.root)
	if err != nil {
		return fmt.Errorf("getting absolute path for root %s: %w", a.root, err)
	}
	a.root = abs

	if f, ok := a.out.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) || a.json {
		color.NoColor = true
	}

	level := a.logLevel
	if level == "" {
		level = "warn"
	}
	// JSON mode keeps stderr machine readable too
	build := logging.NewDevelopment
	if a.json {
		build = logging.NewLogger
	}
	l, err := build(level)
	if err != nil {
		return errors.ValidationError("invalid log level", map[string]string{"level": level})
	}
	a.logger = l.Logger
	return nil
}

// config loads the config file of the state directory, or the defaults when
// there is none. --state-dir names the directory either way.
func (a *app) config() (*config.Config, error) {
	p := config.Locate(a.root, a.stateDir)
	if p == "" {
		cfg := config.Default()
		if a.stateDir != "" {
			cfg.StateDir = a.stateDir
		}
		if err := cfg.Validate(); err != nil {
			return nil, errors.ValidationError(err.Error(), nil)
		}
		return cfg, nil
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, errors.ValidationError(err.Error(), map[string]string{"config": p})
	}
	if a.stateDir != "" {
		cfg.StateDir = a.stateDir
	}
	return cfg, nil
}

// open runs fn against the repository and closes it afterwards.
func (a *app) open(fn func(r *repo.Repo) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	r, err := repo.Open(a.root, cfg, a.logger)
	if err != nil {
		return err
	}

	runErr := fn(r)
	if err := r.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func main() {
	rootCmd, a := newRootCmd(os.Stdout, os.Stderr)
	err := rootCmd.Execute()
	a.logger.Sync()
	if err != nil {
		a.printError(err)
		os.Exit(errors.ExitCode(err))
	}
}
