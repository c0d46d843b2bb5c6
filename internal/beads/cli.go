package beads

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Mschirtzinger/todosync/internal/types"
)

// CLIBackend drives the bd command line tool. Use it when another process
// (the bd daemon, a database backend) owns the store and the log must not be
// edited directly.
type CLIBackend struct {
	bin     string
	repoDir string
	logger  *log.Logger

	// run is swapped in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
	// maxElapsed bounds retries of one call.
	maxElapsed time.Duration
}

// NewCLIBackend runs bin (usually "bd") inside repoDir.
func NewCLIBackend(bin, repoDir string, logger *log.Logger) *CLIBackend {
	if bin == "" {
		bin = "bd"
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[beads] ", log.LstdFlags)
	}
	b := &CLIBackend{bin: bin, repoDir: repoDir, logger: logger, maxElapsed: 10 * time.Second}
	b.run = b.exec
	return b
}

func (b *CLIBackend) exec(ctx context.Context, args ...string) ([]byte, error) {
	// #nosec G204 - bin is configured by the user, args are issue fields
	cmd := exec.CommandContext(ctx, b.bin, args...)
	cmd.Dir = b.repoDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s failed: %w: %s", b.bin, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Create runs bd create with an explicit id.
func (b *CLIBackend) Create(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	args := []string{"create", issue.Title,
		"--id", issue.ID,
		"--type", string(issue.Type),
		"--priority", strconv.Itoa(issue.Priority),
	}
	if issue.Description != "" {
		args = append(args, "--description", issue.Description)
	}
	if issue.Assignee != "" {
		args = append(args, "--assignee", issue.Assignee)
	}
	if len(issue.Labels) > 0 {
		args = append(args, "--labels", strings.Join(issue.Labels, ","))
	}
	if issue.Parent != "" {
		args = append(args, "--parent", issue.Parent)
	}
	if len(issue.DependsOn) > 0 {
		deps := make([]string, len(issue.DependsOn))
		for i, d := range issue.DependsOn {
			deps[i] = DepBlocks + ":" + d
		}
		args = append(args, "--deps", strings.Join(deps, ","))
	}
	if err := b.call(ctx, args...); err != nil {
		return err
	}

	if issue.Status != "" && issue.Status != types.StatusOpen {
		if issue.IsClosed() {
			return b.Close(ctx, issue.ID)
		}
		return b.call(ctx, "update", issue.ID, "--status", string(issue.Status))
	}
	return nil
}

// Update runs bd update with the patched fields, then adjusts dependencies.
// Blocks and Children are applied additively; bd owns their removal.
func (b *CLIBackend) Update(ctx context.Context, id string, patch Patch) error {
	args := []string{"update", id}
	if patch.Title != nil {
		args = append(args, "--title", *patch.Title)
	}
	if patch.Description != nil {
		args = append(args, "--description", *patch.Description)
	}
	if patch.Status != nil {
		args = append(args, "--status", string(*patch.Status))
	}
	if patch.Type != nil {
		args = append(args, "--type", string(*patch.Type))
	}
	if patch.Priority != nil {
		args = append(args, "--priority", strconv.Itoa(*patch.Priority))
	}
	if patch.Assignee != nil {
		args = append(args, "--assignee", *patch.Assignee)
	}
	if patch.SetLabels {
		args = append(args, "--set-labels", strings.Join(patch.Labels, ","))
	}
	if patch.Parent != nil {
		args = append(args, "--parent", *patch.Parent)
	}
	if len(args) > 2 {
		if err := b.call(ctx, args...); err != nil {
			return err
		}
	}

	if patch.SetDependsOn {
		for _, dep := range patch.DependsOn {
			if err := b.call(ctx, "dep", "add", id, dep); err != nil {
				return err
			}
		}
	}
	if patch.SetBlocks {
		for _, other := range patch.Blocks {
			if err := b.call(ctx, "dep", "add", other, id); err != nil {
				return err
			}
		}
	}
	if patch.SetChildren {
		for _, child := range patch.Children {
			if err := b.call(ctx, "update", child, "--parent", id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close runs bd close.
func (b *CLIBackend) Close(ctx context.Context, id string) error {
	return b.call(ctx, "close", id)
}

// Delete runs bd delete --force.
func (b *CLIBackend) Delete(ctx context.Context, id string) error {
	return b.call(ctx, "delete", id, "--force")
}

// call runs one bd command, retrying while the store is busy.
func (b *CLIBackend) call(ctx context.Context, args ...string) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.maxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		_, err := b.run(ctx, args...)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		b.logger.Printf("Warning: %s %s busy (attempt %d), retrying: %v", b.bin, args[0], attempt, err)
		return err
	}, backoff.WithContext(bo, ctx))
}

// isRetryableError reports whether err looks like a transient lock on the
// store rather than a rejected command.
func isRetryableError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "resource busy", "resource temporarily unavailable", "lock held"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
