package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH runs commands on a remote host over a native SSH connection.
// One connection is shared by all Execute calls; each call opens its own
// session on it.
type SSH struct {
	target Target

	mu     sync.Mutex
	client *ssh.Client
	jump   *ssh.Client
}

// NewSSH returns a channel for an SSH target. No connection is made yet.
func NewSSH(t Target) *SSH {
	return &SSH{target: t}
}

func (s *SSH) Target() Target { return s.target }

// Close tears down the SSH connection (and the jump host connection).
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SSH) closeLocked() error {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	if s.jump != nil {
		errs = append(errs, s.jump.Close())
		s.jump = nil
	}
	return errors.Join(errs...)
}

// Execute runs command in a new session. With opts.Stream set, stdout and
// stderr are consumed concurrently by the SSH library's per-stream copiers.
func (s *SSH) Execute(ctx context.Context, command string, opts Options) (Result, error) {
	logger := log.FromContext(ctx)
	line := composeLine(s.target, command, opts)

	client, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("connect interrupted", "target", s.target.Address())
			return interrupted(newCapture(nil))
		}
		return transportFailure(s.target, command, opts, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		// The connection is probably dead; dial again next time.
		s.mu.Lock()
		_ = s.closeLocked()
		s.mu.Unlock()
		return transportFailure(s.target, command, opts, fmt.Errorf("open session: %w", err))
	}
	defer sess.Close()

	out := newCapture(opts.Stream)
	sess.Stdout = out.Stdout()
	sess.Stderr = out.Stderr()

	if opts.PTY {
		modes := ssh.TerminalModes{
			ssh.ECHO:          0,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty("xterm-256color", int(ptySize.Rows), int(ptySize.Cols), modes); err != nil {
			return transportFailure(s.target, command, opts, fmt.Errorf("request pty: %w", err))
		}
	}

	logger.Debug("exec", "target", s.target.Address(), "command", opts.redact(line), "pty", opts.PTY)
	if err := sess.Start(line); err != nil {
		return transportFailure(s.target, command, opts, fmt.Errorf("start: %w", err))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		return s.finish(command, opts, out, err)
	case <-ctx.Done():
	}

	// Interrupted: ask the remote process to stop, then drop the session.
	// Closing the channel hangs up a PTY session, which delivers SIGHUP.
	grace := s.target.killGrace()
	logger.Warn("interrupting remote command", "target", s.target.Address(), "grace", grace)
	_ = sess.Signal(ssh.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		select {
		case <-done:
		case <-time.After(grace):
			logger.Warn("remote session did not close", "target", s.target.Address())
		}
	}
	return interrupted(out)
}

func (s *SSH) finish(command string, opts Options, out *capture, err error) (Result, error) {
	res := Result{Stdout: out.stdoutBytes(), Stderr: out.stderrBytes()}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	// ExitMissingError and connection loss both mean we cannot know the
	// command's outcome.
	return transportFailure(s.target, command, opts, err)
}

// connect returns the shared client, dialling on first use.
func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	t := s.target
	cfg, err := clientConfig(ctx, t.User, t)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.port()))

	if t.Proxy == nil || t.Proxy.Host == "" {
		client, err := dial(ctx, addr, cfg)
		if err != nil {
			return nil, err
		}
		s.client = client
		return client, nil
	}

	proxyUser := t.Proxy.User
	if proxyUser == "" {
		proxyUser = t.User
	}
	proxyCfg, err := clientConfig(ctx, proxyUser, t)
	if err != nil {
		return nil, err
	}
	proxyPort := t.Proxy.Port
	if proxyPort <= 0 {
		proxyPort = 22
	}
	jump, err := dial(ctx, net.JoinHostPort(t.Proxy.Host, strconv.Itoa(proxyPort)), proxyCfg)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %w", t.Proxy.Host, err)
	}
	conn, err := jump.DialContext(ctx, "tcp", addr)
	if err != nil {
		_ = jump.Close()
		return nil, fmt.Errorf("dial %s via proxy %s: %w", addr, t.Proxy.Host, err)
	}
	client, err := handshake(ctx, conn, addr, cfg)
	if err != nil {
		_ = jump.Close()
		return nil, err
	}
	s.jump = jump
	s.client = client
	return s.client, nil
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return handshake(ctx, conn, addr, cfg)
}

// handshake runs the SSH handshake on conn. conn is closed when
// cfg.Timeout passes or ctx is done, so a peer that accepts the connection
// but never speaks SSH cannot block it. Proxied connections have no
// deadline support.
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(hctx, func() { _ = conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// conn was closed under the handshake.
		if err == nil {
			_ = c.Close()
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("handshake %s: %w", addr, ctx.Err())
		}
		return nil, fmt.Errorf("handshake %s: no response within %s", addr, timeout)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// clientConfig assembles authentication (key file, then ssh-agent) and
// host key verification for user on target t.
func clientConfig(ctx context.Context, user string, t Target) (*ssh.ClientConfig, error) {
	if user == "" {
		user = os.Getenv("USER")
	}

	var auth []ssh.AuthMethod
	if t.KeyPath != "" {
		signer, err := loadKey(t.KeyPath)
		switch {
		case err == nil:
			auth = append(auth, ssh.PublicKeys(signer))
		case isPassphraseMissing(err):
			log.FromContext(ctx).Debug("key is passphrase protected, relying on ssh-agent", "key", t.KeyPath)
		default:
			return nil, err
		}
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh credentials: set key_path or start an ssh-agent")
	}

	hostKey, err := hostKeyCallback(t)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         t.connectTimeout(),
	}, nil
}

func loadKey(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	return signer, nil
}

func isPassphraseMissing(err error) bool {
	var pm *ssh.PassphraseMissingError
	return errors.As(err, &pm)
}

func hostKeyCallback(t Target) (ssh.HostKeyCallback, error) {
	if t.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := t.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}
