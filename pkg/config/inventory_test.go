package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleInventory = `
version: 1
targets:
  - name: rack1-ilo
    host: 10.1.0.11
    user: Administrator
    password_env: ILO_RACK1_PASSWORD
    legacy_algorithms: true
    labels:
      rack: "1"
      env: prod
  - name: rack2-ilo
    host: 10.1.0.12
    port: 2222
    user: Administrator
    password_env: ILO_RACK2_PASSWORD
    proxy: jump@bastion.example.com:2022
    command_timeout: 5m
    labels:
      rack: "2"
      env: prod
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write inventory: %v", err)
	}
	return path
}

func TestLoadInventory(t *testing.T) {
	inv, err := LoadInventory(writeInventory(t, sampleInventory))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if len(inv.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(inv.Targets))
	}

	t1, ok := inv.Lookup("rack1-ilo")
	if !ok {
		t.Fatal("rack1-ilo not found by name")
	}
	if !t1.LegacyAlgorithms || t1.Host != "10.1.0.11" {
		t.Errorf("rack1-ilo decoded wrong: %+v", t1)
	}

	t2, ok := inv.Lookup("10.1.0.12")
	if !ok {
		t.Fatal("rack2-ilo not found by host")
	}
	if t2.Port != 2222 || t2.CommandTimeout != 5*time.Minute {
		t.Errorf("rack2-ilo decoded wrong: %+v", t2)
	}

	if _, ok := inv.Lookup("rack9-ilo"); ok {
		t.Error("Lookup found a target that does not exist")
	}
}

func TestInventorySelect(t *testing.T) {
	inv, err := LoadInventory(writeInventory(t, sampleInventory))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}

	if got := inv.Select(map[string]string{"env": "prod"}); len(got) != 2 {
		t.Errorf("env=prod selected %d targets", len(got))
	}
	if got := inv.Select(map[string]string{"rack": "2"}); len(got) != 1 || got[0].Name != "rack2-ilo" {
		t.Errorf("rack=2 selected %+v", got)
	}
	if got := inv.Select(nil); len(got) != 2 {
		t.Errorf("empty selector selected %d targets", len(got))
	}
	if got := inv.Select(map[string]string{"env": "lab"}); len(got) != 0 {
		t.Errorf("env=lab selected %d targets", len(got))
	}
}

func TestLoadInventoryRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "missing password_env",
			content: "version: 1\ntargets:\n  - name: a\n    host: h\n    user: u\n",
			wantMsg: "password_env",
		},
		{
			name:    "missing host",
			content: "version: 1\ntargets:\n  - name: a\n    user: u\n    password_env: P\n",
			wantMsg: "host",
		},
		{
			name:    "bad version",
			content: "version: 3\ntargets:\n  - name: a\n    host: h\n    user: u\n    password_env: P\n",
			wantMsg: "version",
		},
		{
			name:    "no targets",
			content: "version: 1\ntargets: []\n",
			wantMsg: "targets",
		},
		{
			name:    "unknown field",
			content: "version: 1\ntargets:\n  - name: a\n    host: h\n    user: u\n    password_env: P\n    passwort: oops\n",
			wantMsg: "decode",
		},
		{
			name: "duplicate name",
			content: "version: 1\ntargets:\n" +
				"  - {name: a, host: h1, user: u, password_env: P}\n" +
				"  - {name: a, host: h2, user: u, password_env: P}\n",
			wantMsg: "duplicate target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadInventory(writeInventory(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestTargetSSHConfig(t *testing.T) {
	t.Setenv("ILO_TEST_PASSWORD", "hunter2")
	t.Setenv("ILO_TEST_PROXY_PASSWORD", "jumppw")

	target := Target{
		Name:             "lab-ilo",
		Host:             "10.9.0.5",
		Port:             2222,
		User:             "Administrator",
		PasswordEnv:      "ILO_TEST_PASSWORD",
		LegacyAlgorithms: true,
		InsecureHostKey:  true,
		Proxy:            "jump@bastion:2022",
		ProxyPasswordEnv: "ILO_TEST_PROXY_PASSWORD",
		CommandTimeout:   30 * time.Second,
	}

	cfg, err := target.SSHConfig()
	if err != nil {
		t.Fatalf("SSHConfig: %v", err)
	}
	if cfg.Host != "10.9.0.5" || cfg.Port != 2222 || cfg.User != "Administrator" {
		t.Errorf("endpoint wrong: %+v", cfg)
	}
	if cfg.Password != "hunter2" {
		t.Error("password was not resolved from the environment")
	}
	if !cfg.LegacyAlgorithms || cfg.StrictHostKeyChecking {
		t.Errorf("transport flags wrong: legacy=%v strict=%v", cfg.LegacyAlgorithms, cfg.StrictHostKeyChecking)
	}
	if cfg.ProxyHost != "bastion" || cfg.ProxyPort != 2022 || cfg.ProxyUser != "jump" || cfg.ProxyPassword != "jumppw" {
		t.Errorf("proxy wrong: %+v", cfg)
	}
	if cfg.CommandTimeout != 30*time.Second {
		t.Errorf("command timeout = %v", cfg.CommandTimeout)
	}
}

func TestTargetSSHConfigMissingPassword(t *testing.T) {
	target := Target{
		Name:        "lab-ilo",
		Host:        "10.9.0.5",
		User:        "Administrator",
		PasswordEnv: "ILOCTL_TEST_UNSET_VARIABLE",
	}
	if _, err := target.SSHConfig(); err == nil {
		t.Fatal("expected an error for a missing password variable")
	}
}

func TestSplitProxy(t *testing.T) {
	tests := []struct {
		in       string
		user     string
		host     string
		port     int
		wantErr  bool
	}{
		{in: "jump@bastion", user: "jump", host: "bastion"},
		{in: "jump@bastion:2022", user: "jump", host: "bastion", port: 2022},
		{in: "bastion", wantErr: true},
		{in: "@bastion", wantErr: true},
		{in: "jump@", wantErr: true},
		{in: "jump@bastion:notaport", wantErr: true},
		{in: "jump@bastion:99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			user, host, port, err := splitProxy(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("splitProxy: %v", err)
			}
			if user != tt.user || host != tt.host || port != tt.port {
				t.Errorf("got %s@%s:%d", user, host, port)
			}
		})
	}
}
