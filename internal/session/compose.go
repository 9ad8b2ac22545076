package session

import (
	"strings"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/placement"
	"github.com/timvw/sweepmux/internal/shell"
)

// Line composes the shell line typed into the pane for entry:
//
//	export PATH=... && export TOKEN='…' && export K='V' && DEVICE='id' runner command
//
// Every value is quoted; the runner and command are shell text supplied by
// configuration and are used as-is. CPU-only entries get no device
// assignment.
func (o *Orchestrator) Line(t channel.Target, spec Spec, entry placement.Entry) string {
	parts := []string{shell.PrependPath(o.PathDirs...)}
	if t.SecretToken != "" {
		parts = append(parts, shell.Export(o.tokenEnv(), t.SecretToken))
	}
	for _, v := range t.Env {
		parts = append(parts, shell.Export(v.Name, v.Value))
	}
	for _, v := range spec.Env {
		parts = append(parts, shell.Export(v.Name, v.Value))
	}

	var worker []string
	if !entry.CPUOnly() {
		worker = append(worker, shell.Assign(o.deviceEnv(), entry.DeviceID))
	}
	if r := strings.TrimSpace(t.CommandRunner); r != "" {
		worker = append(worker, r)
	}
	worker = append(worker, spec.Command)
	parts = append(parts, strings.Join(worker, " "))

	return shell.Join(parts...)
}
