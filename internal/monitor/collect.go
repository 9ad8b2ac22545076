// Package monitor shows live worker panes across targets.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/timvw/sweepmux/internal/mux"
)

// maxParallel caps concurrent capture-pane calls per target.
const maxParallel = 8

// Source is one target to watch.
type Source struct {
	Name string
	Tmux *mux.Tmux
}

// Row is one pane with the last line of its output.
type Row struct {
	Target string
	Pane   mux.Pane
	Last   string
}

// Snapshot is the state of every source at one point in time.
type Snapshot struct {
	Rows []Row
	// Errors holds sources that could not be listed, by name.
	Errors map[string]error
	At     time.Time
}

// Collect lists panes whose session matches filter on every source and
// captures the last output line of each. A source without a tmux server
// contributes no rows; any other failure is recorded in Errors and the
// remaining sources are still collected.
func Collect(ctx context.Context, sources []Source, filter string) Snapshot {
	snap := Snapshot{Errors: map[string]error{}}
	results := make([][]Row, len(sources))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := collectOne(ctx, src, filter)
			if err != nil {
				mu.Lock()
				snap.Errors[src.Name] = err
				mu.Unlock()
				return
			}
			results[i] = rows
		}()
	}
	wg.Wait()

	for _, rows := range results {
		snap.Rows = append(snap.Rows, rows...)
	}
	snap.At = time.Now()
	return snap
}

func collectOne(ctx context.Context, src Source, filter string) ([]Row, error) {
	panes, err := src.Tmux.ListPanes(ctx, "", filter)
	if err != nil {
		if mux.IsNoServer(err) {
			return nil, nil
		}
		return nil, err
	}

	rows := make([]Row, len(panes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, p := range panes {
		rows[i] = Row{Target: src.Name, Pane: p}
		g.Go(func() error {
			out, err := src.Tmux.CapturePane(gctx, p.ID, 0)
			if err != nil {
				// The pane may have closed since it was listed.
				if mux.IsCommandError(err) {
					log.FromContext(ctx).Debug("capture failed", "target", src.Name, "pane", p.ID, "err", err)
					return nil
				}
				return err
			}
			rows[i].Last = lastLine(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// lastLine returns the last non-blank line of s.
func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
