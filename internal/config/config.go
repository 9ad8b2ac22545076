// Package config loads sweepmux configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (SWEEPMUX_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. --config flag
//  2. .sweepmux.yaml in current directory
//  3. ~/.config/sweepmux/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timvw/sweepmux/internal/channel"
	"github.com/timvw/sweepmux/internal/placement"
	"github.com/timvw/sweepmux/internal/shell"
)

// SweepPlaceholder in WorkerCommand is replaced by the quoted sweep id.
const SweepPlaceholder = "{sweep}"

// Config holds all sweepmux configuration.
type Config struct {
	// Sweep
	SweepFile     string `yaml:"sweep_file"`     // wandb sweep log the sweep id is read from
	WorkerCommand string `yaml:"worker_command"` // e.g. "wandb agent {sweep}"

	// Worker environment
	SecretToken string   `yaml:"secret_token"`
	TokenEnv    string   `yaml:"token_env"`  // variable the secret token is exported as
	DeviceEnv   string   `yaml:"device_env"` // variable selecting a worker's device
	PathDirs    []string `yaml:"path_dirs"`  // prepended to PATH in every pane

	// Device discovery
	DeviceCommand string `yaml:"device_command"`

	// Channel timings
	ConnectTimeout string `yaml:"connect_timeout"` // Go duration string, e.g. "10s"
	KillGrace      string `yaml:"kill_grace"`      // Go duration string, e.g. "5s"

	// Watch refresh
	Refresh string `yaml:"refresh"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	Targets []Target `yaml:"targets"`

	// Parsed durations (not from YAML, set after loading)
	ConnectTimeoutDuration time.Duration `yaml:"-"`
	KillGraceDuration      time.Duration `yaml:"-"`
	RefreshDuration        time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Target is one execution host as written in the config file.
type Target struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`

	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	KeyPath         string `yaml:"key_path"`
	KnownHosts      string `yaml:"known_hosts"`
	InsecureHostKey bool   `yaml:"insecure_host_key"`
	Proxy           *Proxy `yaml:"proxy"`

	KubeContext string `yaml:"kube_context"`
	Namespace   string `yaml:"namespace"`
	Pod         string `yaml:"pod"`
	Container   string `yaml:"container"`

	WorkDir            string  `yaml:"work_dir"`
	CommandRunner      string  `yaml:"command_runner"`
	Devices            string  `yaml:"devices"`
	ProcessesPerDevice *int    `yaml:"processes_per_device"`
	Env                EnvVars `yaml:"env"`

	// SecretToken overrides the global token for this target.
	SecretToken string `yaml:"secret_token"`
}

// Proxy is an SSH jump host.
type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
}

// EnvVars is a YAML mapping that remembers key order.
type EnvVars []channel.EnvVar

// UnmarshalYAML decodes a mapping node pair by pair so exports keep the
// order they were written in.
func (e *EnvVars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: env must be a mapping of NAME: value", node.Line)
	}
	out := make(EnvVars, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: env %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, channel.EnvVar{Name: k.Value, Value: v.Value})
	}
	*e = out
	return nil
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		SweepFile:      ".sweepmux/sweep.log",
		WorkerCommand:  "wandb agent " + SweepPlaceholder,
		TokenEnv:       "WANDB_API_KEY",
		DeviceEnv:      "CUDA_VISIBLE_DEVICES",
		PathDirs:       []string{"~/.local/bin", "~/.cargo/bin"},
		DeviceCommand:  "nvidia-smi --list-gpus",
		ConnectTimeout: "10s",
		KillGrace:      "5s",
		Refresh:        "2s",
	}
}

// Load reads configuration from path (or the default search locations
// when path is empty) and environment variables. Environment variables
// always override file values.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	path, data, err := findConfigFile(path)
	switch {
	case err == nil:
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	case path != "":
		// An explicitly requested file must exist.
		return nil, err
	}

	// Environment variables override everything
	mergeEnv(cfg)

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a Config from YAML bytes on top of the defaults, without
// consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	mergeFile(cfg, &fileCfg)
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) finish() error {
	var err error
	cfg.ConnectTimeoutDuration, err = parsePositiveDuration(cfg.ConnectTimeout, channel.DefaultConnectTimeout)
	if err != nil {
		return fmt.Errorf("invalid connect timeout %q: %w", cfg.ConnectTimeout, err)
	}
	cfg.KillGraceDuration, err = parsePositiveDuration(cfg.KillGrace, channel.DefaultKillGrace)
	if err != nil {
		return fmt.Errorf("invalid kill grace %q: %w", cfg.KillGrace, err)
	}
	cfg.RefreshDuration, err = parseDurationOrDisable(cfg.Refresh, 2*time.Second)
	if err != nil {
		return fmt.Errorf("invalid refresh interval %q: %w", cfg.Refresh, err)
	}
	return cfg.Validate()
}

// findConfigFile returns the explicit path's contents, or searches the
// default locations when explicit is empty.
func findConfigFile(explicit string) (string, []byte, error) {
	if explicit != "" {
		data, err := os.ReadFile(explicit)
		if err != nil {
			return explicit, nil, fmt.Errorf("reading config file: %w", err)
		}
		return explicit, data, nil
	}

	// 1. Current directory
	if data, err := os.ReadFile(".sweepmux.yaml"); err == nil {
		return ".sweepmux.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "sweepmux", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.SweepFile != "" {
		cfg.SweepFile = file.SweepFile
	}
	if file.WorkerCommand != "" {
		cfg.WorkerCommand = file.WorkerCommand
	}
	if file.SecretToken != "" {
		cfg.SecretToken = file.SecretToken
	}
	if file.TokenEnv != "" {
		cfg.TokenEnv = file.TokenEnv
	}
	if file.DeviceEnv != "" {
		cfg.DeviceEnv = file.DeviceEnv
	}
	if file.PathDirs != nil {
		cfg.PathDirs = file.PathDirs
	}
	if file.DeviceCommand != "" {
		cfg.DeviceCommand = file.DeviceCommand
	}
	if file.ConnectTimeout != "" {
		cfg.ConnectTimeout = file.ConnectTimeout
	}
	if file.KillGrace != "" {
		cfg.KillGrace = file.KillGrace
	}
	if file.Refresh != "" {
		cfg.Refresh = file.Refresh
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
	if len(file.Targets) > 0 {
		cfg.Targets = file.Targets
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	if v := os.Getenv("SWEEPMUX_SWEEP_FILE"); v != "" {
		cfg.SweepFile = v
	}
	if v := os.Getenv("SWEEPMUX_WORKER_COMMAND"); v != "" {
		cfg.WorkerCommand = v
	}
	if v := os.Getenv("SWEEPMUX_TOKEN_ENV"); v != "" {
		cfg.TokenEnv = v
	}
	if v := os.Getenv("SWEEPMUX_DEVICE_ENV"); v != "" {
		cfg.DeviceEnv = v
	}
	if v := os.Getenv("SWEEPMUX_CONNECT_TIMEOUT"); v != "" {
		cfg.ConnectTimeout = v
	}
	if v := os.Getenv("SWEEPMUX_KILL_GRACE"); v != "" {
		cfg.KillGrace = v
	}
	if v := os.Getenv("SWEEPMUX_REFRESH"); v != "" {
		cfg.Refresh = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}

	// Secret token: explicit variable, then the worker's own variable.
	if v := os.Getenv("SWEEPMUX_SECRET_TOKEN"); v != "" {
		cfg.SecretToken = v
	}
	if cfg.SecretToken == "" && cfg.TokenEnv != "" {
		if v := os.Getenv(cfg.TokenEnv); v != "" {
			cfg.SecretToken = v
		}
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// parsePositiveDuration is for settings that cannot be turned off.
// Empty string returns the fallback value.
func parsePositiveDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be a positive duration")
	}
	return d, nil
}

// Validate checks target names, transports and variable names.
func (cfg *Config) Validate() error {
	for _, n := range []string{cfg.TokenEnv, cfg.DeviceEnv} {
		if !shell.ValidEnvName(n) {
			return fmt.Errorf("invalid environment variable name %q", n)
		}
	}
	seen := make(map[string]bool)
	for i, t := range cfg.Targets {
		if t.Name == "" {
			return fmt.Errorf("target #%d: name is required", i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("target %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		switch channel.Transport(t.Transport) {
		case "", channel.TransportLocal:
		case channel.TransportSSH:
			if t.Host == "" {
				return fmt.Errorf("target %q: ssh transport requires host", t.Name)
			}
		case channel.TransportK8s:
			if t.Pod == "" {
				return fmt.Errorf("target %q: k8s transport requires pod", t.Name)
			}
		default:
			return fmt.Errorf("target %q: unknown transport %q (supported: local, ssh, k8s)", t.Name, t.Transport)
		}
		for _, v := range t.Env {
			if !shell.ValidEnvName(v.Name) {
				return fmt.Errorf("target %q: invalid environment variable name %q", t.Name, v.Name)
			}
		}
		if t.ProcessesPerDevice != nil && *t.ProcessesPerDevice < 0 {
			return fmt.Errorf("target %q: processes_per_device must not be negative", t.Name)
		}
	}
	return nil
}

// Target returns the named target.
func (cfg *Config) Target(name string) (Target, error) {
	for _, t := range cfg.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	names := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		names[i] = t.Name
	}
	return Target{}, fmt.Errorf("unknown target %q (configured: %s)", name, strings.Join(names, ", "))
}

// Channel converts t into a channel descriptor, filling in global
// settings.
func (cfg *Config) Channel(t Target) channel.Target {
	ct := channel.Target{
		Name:            t.Name,
		Transport:       channel.Transport(t.Transport),
		Host:            t.Host,
		Port:            t.Port,
		User:            t.User,
		KeyPath:         expandHome(t.KeyPath),
		KnownHostsPath:  expandHome(t.KnownHosts),
		InsecureHostKey: t.InsecureHostKey,
		KubeContext:     t.KubeContext,
		Namespace:       t.Namespace,
		Pod:             t.Pod,
		Container:       t.Container,
		WorkDir:         t.WorkDir,
		CommandRunner:   t.CommandRunner,
		Env:             append([]channel.EnvVar(nil), t.Env...),
		SecretToken:     cfg.SecretToken,
		ConnectTimeout:  cfg.ConnectTimeoutDuration,
		KillGrace:       cfg.KillGraceDuration,
	}
	if ct.Transport == "" {
		ct.Transport = channel.TransportLocal
	}
	if t.SecretToken != "" {
		ct.SecretToken = t.SecretToken
	}
	if t.Proxy != nil {
		ct.Proxy = &channel.Proxy{Host: t.Proxy.Host, Port: t.Proxy.Port, User: t.Proxy.User}
	}
	return ct
}

// DeviceConfig parses the target's device setting.
func (t Target) DeviceConfig() placement.DeviceConfig {
	return placement.ParseDeviceConfig(t.Devices)
}

// PerDevice returns processes_per_device, defaulting to 1 when unset.
// An explicit 0 is kept: it plans no workers.
func (t Target) PerDevice() int {
	if t.ProcessesPerDevice == nil {
		return 1
	}
	return *t.ProcessesPerDevice
}

// WorkerCommandFor renders the worker command for a sweep id. The id is
// quoted; the rest of the template is shell text from configuration.
func (cfg *Config) WorkerCommandFor(sweepID string) string {
	if !strings.Contains(cfg.WorkerCommand, SweepPlaceholder) {
		return cfg.WorkerCommand
	}
	return strings.ReplaceAll(cfg.WorkerCommand, SweepPlaceholder, shell.Quote(sweepID))
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
