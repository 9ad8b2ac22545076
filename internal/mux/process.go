package mux

import (
	"context"
	"strconv"
	"strings"

	"github.com/timvw/sweepmux/internal/channel"
)

// Walks up to maxProcessTreeDepth levels below a pane's shell, which covers
// command runners ("uv run") and the worker processes they spawn. The
// result is capped at maxProcessTreeEntries.
const (
	maxProcessTreeDepth   = 5
	maxProcessTreeEntries = 15
)

// ProcessTrees fills in ProcessTree for each pane from a single
// "ps -eo pid=,ppid=,args=" snapshot taken on the target. Process info is
// best-effort: a failing ps leaves the panes untouched.
func ProcessTrees(ctx context.Context, ch channel.Channel, panes []Pane) {
	res, err := ch.Execute(ctx, "ps -eo pid=,ppid=,args=", channel.Options{NoWorkDir: true})
	if err != nil || res.ExitCode != 0 {
		return
	}
	children := parsePS(string(res.Stdout))
	for i := range panes {
		panes[i].ProcessTree = processTree(children, panes[i].PID)
	}
}

type proc struct {
	pid  int
	args string
}

// parsePS builds a parent -> children map from ps output.
func parsePS(out string) map[int][]proc {
	children := map[int][]proc{}
	for _, line := range strings.Split(out, "\n") {
		// Format: "  PID  PPID ARGS..." with variable whitespace between
		// the numbers; ARGS may itself contain spaces.
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		p, err1 := strconv.Atoi(fields[0])
		pp, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		rest := strings.TrimSpace(line)
		for i := 0; i < 2; i++ {
			rest = strings.TrimSpace(rest[strings.IndexAny(rest, " \t"):])
		}
		if rest == "" {
			continue
		}
		children[pp] = append(children[pp], proc{pid: p, args: rest})
	}
	return children
}

// processTree walks the tree from pid breadth-first, indenting each
// command line by its depth.
func processTree(children map[int][]proc, pid int) []string {
	if pid <= 0 {
		return nil
	}
	var tree []string
	type entry struct {
		pid   int
		depth int
	}
	queue := []entry{{pid: pid, depth: 0}}
	for len(queue) > 0 && len(tree) < maxProcessTreeEntries {
		e := queue[0]
		queue = queue[1:]
		if e.depth >= maxProcessTreeDepth {
			continue
		}
		indent := strings.Repeat("  ", e.depth)
		for _, child := range children[e.pid] {
			if len(tree) >= maxProcessTreeEntries {
				break
			}
			tree = append(tree, indent+child.args)
			queue = append(queue, entry{pid: child.pid, depth: e.depth + 1})
		}
	}
	return tree
}
