package channel

import (
	"context"

	"github.com/charmbracelet/log"
)

// Kubectl runs commands inside a pod with "kubectl exec ... -- sh -c".
// It shares the local process runner, so streaming, PTY allocation and
// interruption behave exactly like Local.
type Kubectl struct {
	target Target
	// Binary is the kubectl executable. Defaults to "kubectl".
	Binary string
}

// NewKubectl returns a channel for a Kubernetes pod target.
func NewKubectl(t Target) *Kubectl {
	return &Kubectl{target: t, Binary: "kubectl"}
}

func (k *Kubectl) Target() Target { return k.target }

func (k *Kubectl) Close() error { return nil }

func (k *Kubectl) Execute(ctx context.Context, command string, opts Options) (Result, error) {
	line := composeLine(k.target, command, opts)
	argv := k.argv(line, opts.PTY)
	log.FromContext(ctx).Debug("exec", "target", k.target.Address(), "command", opts.redact(line), "pty", opts.PTY)
	return runProcess(ctx, process{
		target:  k.target,
		command: command,
		argv:    argv,
		opts:    opts,
	})
}

// argv builds the kubectl invocation. The command line is passed as a
// single argv element, so no extra quoting layer is needed here.
func (k *Kubectl) argv(line string, tty bool) []string {
	argv := []string{k.Binary}
	if k.target.KubeContext != "" {
		argv = append(argv, "--context", k.target.KubeContext)
	}
	argv = append(argv, "exec")
	if tty {
		argv = append(argv, "-i", "-t")
	}
	ns := k.target.Namespace
	if ns == "" {
		ns = "default"
	}
	argv = append(argv, "-n", ns, k.target.Pod)
	if k.target.Container != "" {
		argv = append(argv, "-c", k.target.Container)
	}
	return append(argv, "--", "sh", "-c", line)
}
