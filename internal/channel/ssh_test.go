package channel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testServer is a minimal SSH server that runs "exec" requests with the
// local sh and reports their exit status.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
	keyPath string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorized, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	return &testServer{addr: ln.Addr().String(), hostKey: hostSigner.PublicKey(), keyPath: keyPath}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var (
		mu  sync.Mutex
		cmd *exec.Cmd
	)
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			c := exec.Command("sh", "-c", payload.Command)
			c.Stdout = ch
			c.Stderr = ch.Stderr()
			mu.Lock()
			cmd = c
			startErr := c.Start()
			mu.Unlock()
			go func() {
				status := uint32(127)
				if startErr == nil {
					status = 0
					if err := c.Wait(); err != nil {
						var exitErr *exec.ExitError
						if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
							status = uint32(exitErr.ExitCode())
						} else {
							status = 137
						}
					}
				}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				_ = ch.Close()
			}()
		case "signal":
			mu.Lock()
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			mu.Unlock()
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) target(t *testing.T) Target {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Target{
		Name:            "remote",
		Transport:       TransportSSH,
		Host:            host,
		Port:            port,
		User:            "tester",
		KeyPath:         s.keyPath,
		InsecureHostKey: true,
		ConnectTimeout:  5 * time.Second,
		KillGrace:       300 * time.Millisecond,
	}
}

func TestSSHExecute(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startTestServer(t)
	ch := NewSSH(srv.target(t))
	defer ch.Close()

	res, err := ch.Execute(context.Background(), "echo out; echo err 1>&2; exit 4", Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))

	// The connection is reused for the next command.
	res, err = ch.Execute(context.Background(), "echo again", Options{})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "again\n", string(res.Stdout))
}

func TestSSHExecute_StreamingLargeStderr(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startTestServer(t)
	ch := NewSSH(srv.target(t))
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var echo syncBuffer
	res, err := ch.Execute(ctx, "head -c 262144 /dev/zero 1>&2; echo done", Options{Stream: &echo})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Stderr, 262144)
	assert.Equal(t, "done\n", string(res.Stdout))
	assert.Len(t, echo.String(), 262144+len("done\n"))
}

func TestSSHExecute_Interrupt(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startTestServer(t)
	ch := NewSSH(srv.target(t))
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := ch.Execute(ctx, "sleep 30", Options{})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, res.ExitCode)
	assert.Equal(t, InterruptedNote, res.Note)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSSHExecute_KnownHosts(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startTestServer(t)

	good := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(good, []byte(knownhosts.Line([]string{srv.addr}, srv.hostKey)+"\n"), 0o600))

	target := srv.target(t)
	target.InsecureHostKey = false
	target.KnownHostsPath = good
	ch := NewSSH(target)
	res, err := ch.Execute(context.Background(), "true", Options{})
	require.NoError(t, err)
	assert.True(t, res.OK())
	require.NoError(t, ch.Close())

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ssh.NewPublicKey(otherPub)
	require.NoError(t, err)
	bad := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(bad, []byte(knownhosts.Line([]string{srv.addr}, otherKey)+"\n"), 0o600))

	target.KnownHostsPath = bad
	ch = NewSSH(target)
	defer ch.Close()
	res, err = ch.Execute(context.Background(), "true", Options{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, ExitTransport, res.ExitCode)
}

func TestSSHExecute_Unreachable(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startTestServer(t)
	target := srv.target(t)

	// Grab a free port and close it again so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target.Port = ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	ch := NewSSH(target)
	res, err := ch.Execute(context.Background(), "echo hi", Options{})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, target.Address(), te.Target)
	assert.Equal(t, "echo hi", te.Command)
	assert.Equal(t, ExitTransport, res.ExitCode)
	assert.Same(t, te, res.Err)
}

// silentListener accepts connections and never writes to them.
func silentListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSSHExecute_SilentPeerTimesOut(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	target := startTestServer(t).target(t)
	target.Port = silentListener(t)
	target.ConnectTimeout = 500 * time.Millisecond

	ch := NewSSH(target)
	defer ch.Close()

	start := time.Now()
	res, err := ch.Execute(context.Background(), "true", Options{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, ExitTransport, res.ExitCode)
	assert.Contains(t, err.Error(), "handshake")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSSHExecute_SilentPeerInterrupted(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	target := startTestServer(t).target(t)
	target.Port = silentListener(t)
	target.ConnectTimeout = time.Minute

	ch := NewSSH(target)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := ch.Execute(ctx, "true", Options{})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSSHClientConfig_NoCredentials(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	_, err := clientConfig(context.Background(), "alice", Target{Host: "h", InsecureHostKey: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ssh credentials")
}

func TestKubectlArgv(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		tty    bool
		want   []string
	}{
		{
			name:   "default namespace",
			target: Target{Transport: TransportK8s, Pod: "trainer-0"},
			want:   []string{"kubectl", "exec", "-n", "default", "trainer-0", "--", "sh", "-c", "echo hi"},
		},
		{
			name:   "context container and tty",
			target: Target{Transport: TransportK8s, KubeContext: "prod", Namespace: "ml", Pod: "trainer-0", Container: "main"},
			tty:    true,
			want:   []string{"kubectl", "--context", "prod", "exec", "-i", "-t", "-n", "ml", "trainer-0", "-c", "main", "--", "sh", "-c", "echo hi"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewKubectl(tt.target).argv("echo hi", tt.tty))
		})
	}
}

func TestKubectlExecute_MissingBinary(t *testing.T) {
	k := NewKubectl(Target{Name: "pod", Transport: TransportK8s, Pod: "trainer-0"})
	k.Binary = "/nonexistent/kubectl"

	res, err := k.Execute(context.Background(), "echo hi", Options{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Equal(t, ExitTransport, res.ExitCode)
}
