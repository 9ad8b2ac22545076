package channel

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of two
// stream copiers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func localTarget() Target {
	return Target{Name: "local", Transport: TransportLocal, KillGrace: 500 * time.Millisecond}
}

func TestLocalExecute_Buffered(t *testing.T) {
	ch := NewLocal(localTarget())

	res, err := ch.Execute(context.Background(), "echo out; echo err 1>&2", Options{})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestLocalExecute_ExitCode(t *testing.T) {
	ch := NewLocal(localTarget())

	res, err := ch.Execute(context.Background(), "exit 3", Options{})
	require.NoError(t, err, "non-zero exit is not a Go error")
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.OK())
	assert.Nil(t, res.Err)
}

func TestLocalExecute_StreamingEchoesBothStreams(t *testing.T) {
	ch := NewLocal(localTarget())
	var echo syncBuffer

	res, err := ch.Execute(context.Background(), "echo one; echo two 1>&2", Options{Stream: &echo})
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(res.Stdout))
	assert.Equal(t, "two\n", string(res.Stderr))
	assert.Contains(t, echo.String(), "one\n")
	assert.Contains(t, echo.String(), "two\n")
}

// Writing far more than a pipe buffer to one stream while the other stays
// silent must not stall the reader.
func TestLocalExecute_StreamingLargeOutputDoesNotDeadlock(t *testing.T) {
	const size = 512 * 1024
	tests := []struct {
		name    string
		command string
		stdout  int
		stderr  int
	}{
		{"stderr heavy", "head -c 524288 /dev/zero 1>&2", 0, size},
		{"stdout heavy", "head -c 524288 /dev/zero", size, 0},
		{"both heavy", "head -c 524288 /dev/zero; head -c 524288 /dev/zero 1>&2", size, size},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewLocal(localTarget())
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			var echo syncBuffer
			res, err := ch.Execute(ctx, tt.command, Options{Stream: &echo})
			require.NoError(t, err)
			assert.Equal(t, 0, res.ExitCode)
			assert.Len(t, res.Stdout, tt.stdout)
			assert.Len(t, res.Stderr, tt.stderr)
			assert.Len(t, echo.String(), tt.stdout+tt.stderr)
		})
	}
}

func TestLocalExecute_WorkDirInjection(t *testing.T) {
	dir := t.TempDir() + "/it's here"
	require.NoError(t, os.MkdirAll(dir, 0o755))

	target := localTarget()
	target.WorkDir = dir
	ch := NewLocal(target)

	res, err := ch.Execute(context.Background(), "pwd", Options{})
	require.NoError(t, err)
	require.True(t, res.OK(), "stderr: %s", res.Stderr)
	assert.Equal(t, dir, strings.TrimSpace(string(res.Stdout)))

	res, err = ch.Execute(context.Background(), "pwd", Options{NoWorkDir: true})
	require.NoError(t, err)
	assert.NotEqual(t, dir, strings.TrimSpace(string(res.Stdout)))
}

func TestLocalExecute_MissingWorkDirFails(t *testing.T) {
	target := localTarget()
	target.WorkDir = "/nonexistent/sweepmux-test"
	ch := NewLocal(target)

	res, err := ch.Execute(context.Background(), "echo never", Options{})
	require.NoError(t, err)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Empty(t, res.Stdout)
}

func TestLocalExecute_Interrupt(t *testing.T) {
	ch := NewLocal(localTarget())
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := ch.Execute(ctx, "echo started; sleep 30", Options{Stream: &syncBuffer{}})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, res.ExitCode)
	assert.Equal(t, InterruptedNote, res.Note)
	assert.Equal(t, "started\n", string(res.Stdout))
	assert.Less(t, elapsed, 10*time.Second)
}

// A child that ignores SIGTERM is killed once the grace period expires.
func TestLocalExecute_InterruptEscalatesToKill(t *testing.T) {
	ch := NewLocal(localTarget())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := ch.Execute(ctx, "trap '' TERM; while :; do sleep 0.1; done", Options{})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, res.ExitCode)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestLocalExecute_AlreadyCancelled(t *testing.T) {
	ch := NewLocal(localTarget())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, pty := range []bool{false, true} {
		res, err := ch.Execute(ctx, "echo never", Options{PTY: pty})
		require.ErrorIs(t, err, ErrInterrupted)
		assert.False(t, IsTransport(err))
		assert.Equal(t, ExitInterrupted, res.ExitCode)
		assert.Empty(t, res.Stdout)
	}
}

func TestLocalExecute_TransportError(t *testing.T) {
	ch := NewLocal(localTarget())
	ch.Shell = "/nonexistent/sh"

	res, err := ch.Execute(context.Background(), "echo hi", Options{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, ExitTransport, res.ExitCode)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "localhost", te.Target)
	assert.Equal(t, "echo hi", te.Command)
}

func TestLocalExecute_TransportErrorRedactsSecrets(t *testing.T) {
	ch := NewLocal(localTarget())
	ch.Shell = "/nonexistent/sh"

	_, err := ch.Execute(context.Background(), "export TOKEN=supersecretvalue", Options{Sensitive: []string{"supersecretvalue"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "supersecretvalue")
	assert.Contains(t, err.Error(), "supe****")
}

func TestLocalExecute_PTY(t *testing.T) {
	ch := NewLocal(localTarget())

	res, err := ch.Execute(context.Background(), "test -t 1 && echo tty", Options{PTY: true})
	if IsTransport(err) {
		t.Skipf("no pty available: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Stdout), "tty")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{"local", Target{Name: "a", Transport: TransportLocal}, ""},
		{"default is local", Target{Name: "a"}, ""},
		{"ssh", Target{Name: "a", Transport: TransportSSH, Host: "h"}, ""},
		{"ssh without host", Target{Name: "a", Transport: TransportSSH}, "requires a host"},
		{"k8s", Target{Name: "a", Transport: TransportK8s, Pod: "p"}, ""},
		{"k8s without pod", Target{Name: "a", Transport: TransportK8s}, "requires a pod"},
		{"unknown", Target{Name: "a", Transport: "telnet"}, "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(tt.target)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, ch.Close())
		})
	}
}

func TestTargetAddress(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{Transport: TransportLocal}, "localhost"},
		{Target{Transport: TransportSSH, Host: "gpu1"}, "gpu1:22"},
		{Target{Transport: TransportSSH, Host: "gpu1", Port: 2222, User: "alice"}, "alice@gpu1:2222"},
		{Target{Transport: TransportK8s, Pod: "trainer-0"}, "k8s://default/trainer-0"},
		{Target{Transport: TransportK8s, Namespace: "ml", Pod: "trainer-0"}, "k8s://ml/trainer-0"},
	}
	for _, tt := range tests {
		if got := tt.target.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
}
