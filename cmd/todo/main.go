// Command todo keeps beads issues and a directory of markdown issue files
// in step.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/todosync/internal/ui"
	_ "github.com/Mschirtzinger/todosync/internal/vcs/git"
	_ "github.com/Mschirtzinger/todosync/internal/vcs/jj"
)

// Version is set at build time
var Version = "dev"

// Command groups for organized help output
const (
	GroupSync  = "sync"
	GroupFiles = "files"
	GroupSetup = "setup"
)

func main() {
	ui.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// exitError ends a command with a status code after it already reported
// what went wrong.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "todo",
		Short: "todo - beads issues as markdown files",
		Long: `Keep beads issues and a directory of markdown issue files in step.

Each issue is one file with YAML frontmatter under .todo/. Edit either side,
then run 'todo sync' (or leave 'todo watch' running) to carry the change over.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			a.in = cmd.InOrStdin()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.startDir, "chdir", "C", "", "Run as if started in this directory")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log component activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSync, Title: "Sync:"},
		&cobra.Group{ID: GroupFiles, Title: "Issue Files & Templates:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup & Integrations:"},
	)

	rootCmd.AddCommand(
		newSyncCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newDashboardCmd(a),
		newRenderCmd(a),
		newExtractCmd(a),
		newDiffCmd(a),
		newParseCmd(a),
		newFilenameCmd(a),
		newNewCmd(a),
		newInitCmd(a),
		newMCPCmd(a),
	)
	return rootCmd
}
