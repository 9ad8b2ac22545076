package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/timvw/sweepmux/internal/channel"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.WorkerCommand != "wandb agent {sweep}" {
		t.Errorf("WorkerCommand: got %q", cfg.WorkerCommand)
	}
	if cfg.TokenEnv != "WANDB_API_KEY" {
		t.Errorf("TokenEnv: got %q", cfg.TokenEnv)
	}
	if cfg.DeviceEnv != "CUDA_VISIBLE_DEVICES" {
		t.Errorf("DeviceEnv: got %q", cfg.DeviceEnv)
	}
	if cfg.Refresh != "2s" {
		t.Errorf("Refresh: got %q, want %q", cfg.Refresh, "2s")
	}
	if len(cfg.PathDirs) != 2 {
		t.Errorf("PathDirs: got %v", cfg.PathDirs)
	}
}

const sample = `
worker_command: "uv run wandb agent {sweep}"
secret_token: global-token-123
kill_grace: 1s
refresh: "off"
targets:
  - name: bunny
    transport: ssh
    host: 10.0.0.5
    user: alice
    key_path: ~/.ssh/id_ed25519
    work_dir: /home/alice/proj
    devices: "0,1"
    processes_per_device: 2
    env:
      ZED: last
      ALPHA: first
      MIDDLE: "it's here"
  - name: pod
    transport: k8s
    pod: trainer-0
    processes_per_device: 0
    secret_token: pod-token
  - name: laptop
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.WorkerCommand != "uv run wandb agent {sweep}" {
		t.Errorf("WorkerCommand: got %q", cfg.WorkerCommand)
	}
	// Unset keys keep their defaults.
	if cfg.TokenEnv != "WANDB_API_KEY" {
		t.Errorf("TokenEnv: got %q", cfg.TokenEnv)
	}
	if cfg.KillGraceDuration != time.Second {
		t.Errorf("KillGraceDuration: got %v", cfg.KillGraceDuration)
	}
	if cfg.ConnectTimeoutDuration != 10*time.Second {
		t.Errorf("ConnectTimeoutDuration: got %v", cfg.ConnectTimeoutDuration)
	}
	if cfg.RefreshDuration != 0 {
		t.Errorf("RefreshDuration: got %v, want 0 (disabled)", cfg.RefreshDuration)
	}
	if len(cfg.Targets) != 3 {
		t.Fatalf("Targets: got %d", len(cfg.Targets))
	}

	bunny := cfg.Targets[0]
	var names []string
	for _, v := range bunny.Env {
		names = append(names, v.Name)
	}
	if got := strings.Join(names, ","); got != "ZED,ALPHA,MIDDLE" {
		t.Errorf("env order: got %s, want ZED,ALPHA,MIDDLE", got)
	}
	if bunny.Env[2].Value != "it's here" {
		t.Errorf("env value: got %q", bunny.Env[2].Value)
	}
	if bunny.PerDevice() != 2 {
		t.Errorf("PerDevice: got %d", bunny.PerDevice())
	}
	if got := bunny.DeviceConfig().String(); got != "0,1" {
		t.Errorf("DeviceConfig: got %q", got)
	}

	if cfg.Targets[1].PerDevice() != 0 {
		t.Errorf("explicit 0 processes_per_device must be kept, got %d", cfg.Targets[1].PerDevice())
	}
	if cfg.Targets[2].PerDevice() != 1 {
		t.Errorf("unset processes_per_device should default to 1, got %d", cfg.Targets[2].PerDevice())
	}
	if !cfg.Targets[2].DeviceConfig().Auto() {
		t.Error("unset devices should be auto")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing name", "targets:\n  - host: x\n", "name is required"},
		{"duplicate name", "targets:\n  - name: a\n  - name: a\n", "duplicate name"},
		{"ssh without host", "targets:\n  - name: a\n    transport: ssh\n", "requires host"},
		{"k8s without pod", "targets:\n  - name: a\n    transport: k8s\n", "requires pod"},
		{"unknown transport", "targets:\n  - name: a\n    transport: telnet\n", "unknown transport"},
		{"bad env name", "targets:\n  - name: a\n    env:\n      BAD-NAME: x\n", "invalid environment variable name"},
		{"negative per device", "targets:\n  - name: a\n    processes_per_device: -1\n", "must not be negative"},
		{"bad device env", "device_env: \"CUDA VISIBLE\"\n", "invalid environment variable name"},
		{"env not a mapping", "targets:\n  - name: a\n    env: [A, B]\n", "must be a mapping"},
		{"bad duration", "kill_grace: soon\n", "invalid kill grace"},
		{"connect timeout off", "connect_timeout: \"off\"\n", "invalid connect timeout"},
		{"zero kill grace", "kill_grace: \"0\"\n", "invalid kill grace"},
		{"negative kill grace", "kill_grace: -1s\n", "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SWEEPMUX_WORKER_COMMAND", "python agent.py {sweep}")
	t.Setenv("SWEEPMUX_SECRET_TOKEN", "env-token")
	t.Setenv("SWEEPMUX_REFRESH", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile: got %q", cfg.ConfigFile)
	}
	if cfg.WorkerCommand != "python agent.py {sweep}" {
		t.Errorf("WorkerCommand: got %q", cfg.WorkerCommand)
	}
	if cfg.SecretToken != "env-token" {
		t.Errorf("SecretToken: got %q", cfg.SecretToken)
	}
	if cfg.RefreshDuration != 5*time.Second {
		t.Errorf("RefreshDuration: got %v", cfg.RefreshDuration)
	}
}

func TestLoadTokenFallsBackToTokenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("token_env: MY_KEY\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SWEEPMUX_SECRET_TOKEN", "")
	t.Setenv("MY_KEY", "from-worker-var")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SecretToken != "from-worker-var" {
		t.Errorf("SecretToken: got %q", cfg.SecretToken)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() with a missing explicit file should fail")
	}
}

func TestChannel(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	bunny, err := cfg.Target("bunny")
	if err != nil {
		t.Fatal(err)
	}
	ct := cfg.Channel(bunny)
	if ct.Transport != channel.TransportSSH {
		t.Errorf("Transport: got %q", ct.Transport)
	}
	if ct.KeyPath != filepath.Join(home, ".ssh/id_ed25519") {
		t.Errorf("KeyPath: got %q", ct.KeyPath)
	}
	if ct.SecretToken != "global-token-123" {
		t.Errorf("SecretToken: got %q", ct.SecretToken)
	}
	if ct.KillGrace != time.Second {
		t.Errorf("KillGrace: got %v", ct.KillGrace)
	}
	if ct.Address() != "alice@10.0.0.5:22" {
		t.Errorf("Address: got %q", ct.Address())
	}

	pod, _ := cfg.Target("pod")
	if got := cfg.Channel(pod).SecretToken; got != "pod-token" {
		t.Errorf("per-target token should win, got %q", got)
	}

	laptop, _ := cfg.Target("laptop")
	if got := cfg.Channel(laptop).Transport; got != channel.TransportLocal {
		t.Errorf("default transport: got %q", got)
	}

	_, err = cfg.Target("ghost")
	if err == nil || !strings.Contains(err.Error(), "bunny, pod, laptop") {
		t.Errorf("unknown target error should list targets, got %v", err)
	}
}

func TestWorkerCommandFor(t *testing.T) {
	tests := []struct {
		template string
		id       string
		want     string
	}{
		{"wandb agent {sweep}", "team/proj/abc", "wandb agent 'team/proj/abc'"},
		{"wandb agent {sweep}", "x'; rm -rf ~; '", `wandb agent 'x'"'"'; rm -rf ~; '"'"''`},
		{"python train.py", "ignored", "python train.py"},
	}
	for _, tt := range tests {
		cfg := Defaults()
		cfg.WorkerCommand = tt.template
		if got := cfg.WorkerCommandFor(tt.id); got != tt.want {
			t.Errorf("WorkerCommandFor(%q) with %q = %q, want %q", tt.id, tt.template, got, tt.want)
		}
	}
}

func TestParsePositiveDuration(t *testing.T) {
	if got, err := parsePositiveDuration("", 5*time.Second); err != nil || got != 5*time.Second {
		t.Errorf(`parsePositiveDuration("") = %v, %v`, got, err)
	}
	if got, err := parsePositiveDuration("750ms", 5*time.Second); err != nil || got != 750*time.Millisecond {
		t.Errorf(`parsePositiveDuration("750ms") = %v, %v`, got, err)
	}
	for _, in := range []string{"0", "0s", "off", "-2s"} {
		if _, err := parsePositiveDuration(in, 5*time.Second); err == nil {
			t.Errorf("parsePositiveDuration(%q) succeeded, want error", in)
		}
	}
}

func TestParseDurationOrDisable(t *testing.T) {
	tests := []struct {
		input    string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{"", 5 * time.Second, 5 * time.Second, false},
		{"0", 5 * time.Second, 0, false},
		{"off", 5 * time.Second, 0, false},
		{"disable", 5 * time.Second, 0, false},
		{"250ms", 5 * time.Second, 250 * time.Millisecond, false},
		{"nope", 5 * time.Second, 0, true},
	}
	for _, tt := range tests {
		got, err := parseDurationOrDisable(tt.input, tt.fallback)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDurationOrDisable(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDurationOrDisable(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
