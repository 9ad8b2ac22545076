package channel

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Transport selects how commands reach a target.
type Transport string

const (
	TransportLocal Transport = "local"
	TransportSSH   Transport = "ssh"
	TransportK8s   Transport = "k8s"
)

// Default timings applied when a Target leaves them unset.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultKillGrace      = 5 * time.Second
)

// EnvVar is one exported environment variable. Targets carry a slice
// rather than a map so exports are emitted in configuration order.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Proxy is an SSH jump host.
type Proxy struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
}

// Target describes a host on which workers run. It is filled in by the
// configuration layer and treated as read-only for the duration of a call.
type Target struct {
	Name      string    `json:"name"`
	Transport Transport `json:"transport"`

	// SSH
	Host            string `json:"host,omitempty"`
	Port            int    `json:"port,omitempty"`
	User            string `json:"user,omitempty"`
	KeyPath         string `json:"key_path,omitempty"`
	KnownHostsPath  string `json:"known_hosts,omitempty"`
	InsecureHostKey bool   `json:"insecure_host_key,omitempty"`
	Proxy           *Proxy `json:"proxy,omitempty"`

	// Kubernetes
	KubeContext string `json:"kube_context,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	Pod         string `json:"pod,omitempty"`
	Container   string `json:"container,omitempty"`

	// WorkDir is prepended as "cd <dir> &&" unless a command opts out.
	WorkDir string `json:"work_dir,omitempty"`
	// CommandRunner prefixes worker commands, e.g. "uv run".
	CommandRunner string   `json:"command_runner,omitempty"`
	Env           []EnvVar `json:"env,omitempty"`
	// SecretToken is exported into every worker pane. Never logged in full.
	SecretToken string `json:"-"`

	ConnectTimeout time.Duration `json:"-"`
	KillGrace      time.Duration `json:"-"`
}

// Address returns a human-readable location used in logs and errors.
func (t Target) Address() string {
	switch t.Transport {
	case TransportSSH:
		addr := net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
		if t.User != "" {
			addr = t.User + "@" + addr
		}
		return addr
	case TransportK8s:
		ns := t.Namespace
		if ns == "" {
			ns = "default"
		}
		return fmt.Sprintf("k8s://%s/%s", ns, t.Pod)
	default:
		return "localhost"
	}
}

func (t Target) port() int {
	if t.Port > 0 {
		return t.Port
	}
	return 22
}

func (t Target) connectTimeout() time.Duration {
	if t.ConnectTimeout > 0 {
		return t.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (t Target) killGrace() time.Duration {
	if t.KillGrace > 0 {
		return t.KillGrace
	}
	return DefaultKillGrace
}
