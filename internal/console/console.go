// Package console implements the interactive operator surface: the
// confirmation prompts, the user picker and the live counter lines.
// Log output goes to stderr via the logger; everything here owns stdout.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/watchhero/jellyfin-watch-sync/internal/sync"
)

// ErrAborted is returned when the operator cancels at a prompt
var ErrAborted = errors.New("aborted by operator")

// Console reads prompts from in and writes to out
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a console over the given reader and writer
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:  bufio.NewReader(in),
		out: out,
	}
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

type readResult struct {
	line string
	err  error
}

// readLine reads one answer, aborting on interrupt or EOF. The read
// itself cannot be interrupted, so it runs in a goroutine and loses the
// race against ctx; the process is about to exit either way.
func (c *Console) readLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrAborted
	}

	ch := make(chan readResult, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrAborted
	case r := <-ch:
		if r.err != nil {
			if r.err == io.EOF {
				return "", ErrAborted
			}
			return "", r.err
		}
		return strings.TrimSpace(r.line), nil
	}
}

// Confirm asks a yes/no question; default is no
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	for {
		c.printf("%s [y/N]: ", question)
		answer, err := c.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		default:
			c.printf("Please answer y or n.\n")
		}
	}
}

// PresentMissingUsers lists the source-only users before the creation prompt
func (c *Console) PresentMissingUsers(names []string) {
	c.printf("\nFound %d user(s) on source that don't exist on destination:\n", len(names))
	for _, name := range names {
		c.printf("  - %s\n", name)
	}
}

// ChooseTarget lets the operator pick one common user or all of them.
// Returns sync pairs in the chosen scope.
func (c *Console) ChooseTarget(ctx context.Context, common []sync.UserPair) ([]sync.UserPair, error) {
	c.printf("\nFound %d common user(s) for watch history sync:\n", len(common))
	for i, pair := range common {
		c.printf("  %d. %s\n", i+1, pair.Name)
	}
	for {
		c.printf("\nEnter a user number to sync, or \"all\": ")
		answer, err := c.readLine(ctx)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(answer, "all") {
			return common, nil
		}
		idx, err := strconv.Atoi(answer)
		if err != nil || idx < 1 || idx > len(common) {
			c.printf("Please enter a number between 1 and %d, or \"all\".\n", len(common))
			continue
		}
		return []sync.UserPair{common[idx-1]}, nil
	}
}

// Progress prints one live counter line after an item attempt.
// Implements sync.ProgressFunc.
func (c *Console) Progress(p sync.Progress) {
	var marker string
	switch p.Outcome {
	case sync.OutcomeCompleted:
		marker = "ok"
	case sync.OutcomeSkipped:
		marker = "skipped"
	case sync.OutcomeFailed:
		marker = "FAILED"
	}
	c.printf("[%d/%d] %s: %s | completed: %d | remaining: %d\n",
		p.Index, p.Total, marker, p.ItemName, p.Result.Completed, p.Result.Remaining())
}

// CreateSummary prints the user-provisioning outcome
func (c *Console) CreateSummary(s sync.CreateSummary) {
	c.printf("\nUser creation: %d requested, %d created, %d failed\n", s.Total, s.Created, s.Failed)
	if s.Failed > 0 {
		c.printf("Warning: some users failed to create; their watch history will not sync.\n")
	}
}

// RunSummary prints the per-user and aggregate totals
func (c *Console) RunSummary(summary *sync.RunSummary) {
	c.printf("\n%s\n", strings.Repeat("=", 50))
	c.printf("SYNC SUMMARY\n")
	c.printf("%s\n", strings.Repeat("=", 50))
	for _, report := range summary.Users {
		c.printf("%-24s total %4d | completed %4d | skipped %4d | failed %4d\n",
			report.User, report.Result.Total, report.Result.Completed,
			report.Result.Skipped, report.Result.Failed)
	}
	agg := summary.Aggregate
	c.printf("%s\n", strings.Repeat("-", 50))
	c.printf("%-24s total %4d | completed %4d | skipped %4d | failed %4d\n",
		"all users", agg.Total, agg.Completed, agg.Skipped, agg.Failed)
}
