package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arccode/factory-sub002/pkg/core"
	"github.com/arccode/factory-sub002/pkg/logger"
	"github.com/arccode/factory-sub002/pkg/testlist"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// formatDuration formats a duration the way the run output shows it.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// console prints live progress of leaf tests.
type console struct {
	mu sync.Mutex
	w  io.Writer
	tl *testlist.TestList
}

func newConsole(w io.Writer, tl *testlist.TestList) *console {
	return &console{w: w, tl: tl}
}

func (c *console) RunStarted(run core.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	root := run.Root
	if root == "" {
		root = "all tests"
	}
	fmt.Fprintf(c.w, "\n  %sRun %s%s %s%s%s\n", color(colorCyan), run.ID, color(colorReset),
		color(colorBold), root, color(colorReset))
	fmt.Fprintln(c.w, "  "+strings.Repeat("─", 60))
}

func (c *console) StateChanged(change core.StateChange) {
	n, ok := c.tl.Lookup(change.Path)
	if !ok || !n.IsLeaf() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := change.State
	label := n.Label.Default()
	switch {
	case st.IsSkipped():
		fmt.Fprintf(c.w, "    %s-%s %s %sskipped%s\n", color(colorCyan), color(colorReset), label, color(colorGray), color(colorReset))
	case st.Status == core.StatusActive:
		fmt.Fprintf(c.w, "    %s▸%s %s %s(%s)%s\n", color(colorCyan), color(colorReset), label, color(colorGray), n.Path, color(colorReset))
	case st.Status == core.StatusPassed:
		fmt.Fprintf(c.w, "    %s✓%s %s %s(%s)%s\n", color(colorGreen), color(colorReset), label,
			color(colorGray), formatDuration(st.EndTime.Sub(st.StartTime)), color(colorReset))
	case st.Status == core.StatusFailed:
		fmt.Fprintf(c.w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), label, formatDuration(st.EndTime.Sub(st.StartTime)))
		if st.ErrorMsg != "" {
			fmt.Fprintf(c.w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), st.ErrorMsg)
		}
	}
}

func (c *console) RunFinished(run core.RunInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	printSummary(c.w, run)
}

func printSummary(w io.Writer, run core.RunInfo) {
	s := run.Summary
	fmt.Fprintln(w)
	if s.Passed > 0 {
		fmt.Fprintf(w, "  %s%d passing%s (%s)\n", color(colorGreen), s.Passed, color(colorReset),
			formatDuration(run.Duration()))
	}
	if s.Failed > 0 {
		fmt.Fprintf(w, "  %s%d failing%s\n", color(colorRed), s.Failed, color(colorReset))
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "  %s%d skipped%s\n", color(colorCyan), s.Skipped, color(colorReset))
	}
	if s.Untested > 0 {
		fmt.Fprintf(w, "  %s%d not run%s\n", color(colorYellow), s.Untested, color(colorReset))
	}
	if run.Stopped {
		fmt.Fprintf(w, "  %sstopped:%s %s\n", color(colorRed), color(colorReset), run.Reason)
	}
	fmt.Fprintln(w)
}

// logObserver reports finished tests through the logger.
func logObserver(tl *testlist.TestList) core.Observer {
	return core.ObserverFuncs{
		OnRunStarted: func(run core.RunInfo) {
			logger.Info("Run %s started at %q", run.ID, run.Root)
		},
		OnStateChanged: func(change core.StateChange) {
			n, ok := tl.Lookup(change.Path)
			if !ok || !n.IsLeaf() || !change.State.Status.IsTerminal() {
				return
			}
			if change.State.Status == core.StatusFailed {
				logger.Warn("%s FAILED: %s", change.Path, change.State.ErrorMsg)
				return
			}
			logger.Info("%s %s", change.Path, change.State.Status)
		},
		OnRunFinished: func(run core.RunInfo) {
			logger.Info("Run %s finished: %d passed, %d failed, %d skipped",
				run.ID, run.Summary.Passed, run.Summary.Failed, run.Summary.Skipped)
		},
	}
}

// prompt asks the operator on the terminal whether to pass a barrier.
type prompt struct {
	out   io.Writer
	lines chan string
}

func newPrompt(in io.Reader, out io.Writer) *prompt {
	p := &prompt{out: out, lines: make(chan string)}
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
	return p
}

// ConfirmBarrier implements core.Operator. An empty answer continues.
func (p *prompt) ConfirmBarrier(ctx context.Context, req *core.BarrierRequest) (bool, error) {
	fmt.Fprintf(p.out, "\n  %sBarrier%s %s: %d passed, %d failed. Continue? [Y/n] ",
		color(colorYellow), color(colorReset), req.Label, req.Summary.Passed, req.Summary.Failed)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, fmt.Errorf("no answer at barrier %s: input closed", req.Path)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
