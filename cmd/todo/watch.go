package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Mschirtzinger/todosync/internal/daemon"
	"github.com/Mschirtzinger/todosync/internal/dashboard"
	"github.com/Mschirtzinger/todosync/internal/ui"
)

// watchFlags are shared by watch and dashboard.
type watchFlags struct {
	debounce        time.Duration
	logFile         string
	direction       string
	handleDeletions bool
}

func (f *watchFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.debounce, "debounce", 0, "Quiet period before a sync runs (default: watch.debounce)")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Write daemon logs to a rotated file (default: watch.log-file)")
	cmd.Flags().StringVarP(&f.direction, "direction", "d", "", "Sync direction (default: sync.direction)")
	cmd.Flags().BoolVar(&f.handleDeletions, "handle-deletions", false, "Propagate deletions (default: sync.handle-deletions)")
}

// startDaemon opens a locked session and builds a daemon for it. The
// returned closer releases the session and any log file.
func (a *app) startDaemon(ctx context.Context, cmd *cobra.Command, f *watchFlags, command string) (*daemon.Daemon, func(), error) {
	s, err := a.openSession(ctx, command, exclusive)
	if err != nil {
		return nil, nil, err
	}
	opts, err := syncOptions(s.cfg, cmd, f.direction, f.handleDeletions, false)
	if err != nil {
		s.Close()
		return nil, nil, err
	}

	debounce := s.cfg.Watch.Debounce
	if cmd.Flags().Changed("debounce") {
		debounce = f.debounce
	}
	logFile := s.cfg.Watch.LogFile
	if cmd.Flags().Changed("log-file") {
		logFile = f.logFile
	}

	logger := a.logger("daemon")
	var rotated io.Closer
	if logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		rotated = lj
		logger = log.New(lj, "[daemon] ", log.LstdFlags)
	}

	logPath := s.cfg.BeadsLog()
	d, err := daemon.New(s.syncer, s.cfg.Dir, filepath.Dir(logPath), filepath.Base(logPath), &daemon.Config{
		Debounce: debounce,
		Options:  opts,
		Logger:   logger,
	})
	if err != nil {
		s.Close()
		if rotated != nil {
			_ = rotated.Close()
		}
		return nil, nil, err
	}

	closer := func() {
		s.Close()
		if rotated != nil {
			_ = rotated.Close()
		}
	}
	return d, closer, nil
}

func newWatchCmd(a *app) *cobra.Command {
	f := &watchFlags{}

	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: GroupSync,
		Short:   "Sync continuously as issue files or the beads log change",
		Long: `Run one sync, then watch the issue directory and the beads log and sync
again after every burst of changes. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, closer, err := a.startDaemon(ctx, cmd, f, "todo watch")
			if err != nil {
				return err
			}
			defer closer()

			d.AddListener(func(r daemon.Report) {
				a.printReport(r)
			})

			fmt.Fprintln(a.out, "Watching for changes. Press Ctrl+C to stop...")
			return d.Start(ctx)
		},
	}
	f.register(cmd)
	return cmd
}

// printReport writes one daemon run to the terminal.
func (a *app) printReport(r daemon.Report) {
	stamp := ui.RenderMuted(time.Now().Format(time.TimeOnly))
	if r.Err != nil {
		fmt.Fprintf(a.errOut, "%s %s sync failed: %v\n", stamp, ui.RenderFail(ui.IconFail), r.Err)
		return
	}
	if r.Result == nil || (!r.Result.Changed() && len(r.Result.Errors) == 0) {
		return
	}
	if a.jsonOutput {
		_ = a.printJSON(r.Result)
		return
	}
	fmt.Fprintf(a.out, "%s\n%s", stamp, ui.FormatResult(r.Result))
}

func newDashboardCmd(a *app) *cobra.Command {
	var (
		port int
		host string
	)
	f := &watchFlags{}

	cmd := &cobra.Command{
		Use:     "dashboard",
		GroupID: GroupSync,
		Short:   "Watch and stream sync activity to WebSocket clients",
		Long: `Run the watch loop and broadcast every sync to WebSocket clients.

Messages:
  hello          state of the last run, sent on connect
  sync_complete  counts for a finished run
  issue_update   one created, updated, deleted, written or removed issue
  conflict       an issue edited on both sides
  sync_error     a failed run or a failed item

Example:
  todo dashboard --port 9000
  websocat ws://localhost:9000/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, closer, err := a.startDaemon(ctx, cmd, f, "todo dashboard")
			if err != nil {
				return err
			}
			defer closer()

			if !cmd.Flags().Changed("port") {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				port = cfg.DashboardPort
			}

			server := dashboard.NewServer(&dashboard.Config{
				Host:   host,
				Port:   port,
				Logger: a.logger("dashboard"),
			})
			handler := dashboard.NewHandler(server, a.logger("dashboard"))
			d.AddListener(handler.Listener())
			d.AddListener(func(r daemon.Report) {
				a.printReport(r)
			})

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			addr := server.GetAddr()
			fmt.Fprintf(a.out, "Dashboard server started on http://%s\n", addr)
			fmt.Fprintf(a.out, "WebSocket endpoint: ws://%s/ws\n", addr)
			fmt.Fprintf(a.out, "Health check: http://%s/health\n", addr)
			fmt.Fprintln(a.out, "\nPress Ctrl+C to stop...")

			runErr := d.Start(ctx)

			fmt.Fprintln(a.out, "\nShutting down dashboard server...")
			if err := server.Stop(); err != nil {
				return fmt.Errorf("failed to stop dashboard: %w", err)
			}
			fmt.Fprintln(a.out, "Dashboard server stopped")
			return runErr
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (default: dashboard.port)")
	cmd.Flags().StringVar(&host, "host", "localhost", "Interface to listen on")
	f.register(cmd)
	return cmd
}
