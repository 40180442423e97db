package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("10.0.0.50", "Administrator")

	if config.Host != "10.0.0.50" {
		t.Errorf("expected host '10.0.0.50', got '%s'", config.Host)
	}

	if config.User != "Administrator" {
		t.Errorf("expected user 'Administrator', got '%s'", config.User)
	}

	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}

	if config.AuthMethod != AuthMethodPassword {
		t.Errorf("expected auth method 'password', got '%s'", config.AuthMethod)
	}

	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}

	if config.KeepAliveInterval == 0 {
		t.Error("expected keep-alive enabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		c := DefaultConfig("10.0.0.50", "Administrator")
		c.Password = "secret"
		return c
	}

	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:       "valid config",
			modifyFunc: func(c *Config) {},
		},
		{
			name:        "missing host",
			modifyFunc:  func(c *Config) { c.Host = "" },
			expectError: true,
			errorMsg:    "host is required",
		},
		{
			name:        "invalid port",
			modifyFunc:  func(c *Config) { c.Port = 0 },
			expectError: true,
			errorMsg:    "invalid port",
		},
		{
			name:        "missing user",
			modifyFunc:  func(c *Config) { c.User = "" },
			expectError: true,
			errorMsg:    "user is required",
		},
		{
			name:        "password auth without password",
			modifyFunc:  func(c *Config) { c.Password = "" },
			expectError: true,
			errorMsg:    "password is required",
		},
		{
			name:        "key auth without key path",
			modifyFunc:  func(c *Config) { c.AuthMethod = AuthMethodKey },
			expectError: true,
			errorMsg:    "private key path is required",
		},
		{
			name:        "unsupported auth method",
			modifyFunc:  func(c *Config) { c.AuthMethod = "agent" },
			expectError: true,
			errorMsg:    "unsupported auth method",
		},
		{
			name:        "zero connection timeout",
			modifyFunc:  func(c *Config) { c.ConnectionTimeout = 0 },
			expectError: true,
			errorMsg:    "connection timeout must be positive",
		},
		{
			name: "proxy without user",
			modifyFunc: func(c *Config) {
				c.ProxyHost = "bastion.example.net"
			},
			expectError: true,
			errorMsg:    "proxy user is required",
		},
		{
			name: "proxy with invalid port",
			modifyFunc: func(c *Config) {
				c.ProxyHost = "bastion.example.net"
				c.ProxyUser = "jump"
				c.ProxyPort = 70000
			},
			expectError: true,
			errorMsg:    "invalid proxy port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base()
			tt.modifyFunc(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildSSHClientConfigPassword(t *testing.T) {
	config := DefaultConfig("10.0.0.50", "Administrator")
	config.Password = "secret"
	config.StrictHostKeyChecking = false

	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		t.Fatalf("BuildSSHClientConfig() error = %v", err)
	}

	if clientConfig.User != "Administrator" {
		t.Errorf("expected user 'Administrator', got '%s'", clientConfig.User)
	}

	// Password plus keyboard-interactive; older iLO firmware prompts
	// through the latter.
	if len(clientConfig.Auth) != 2 {
		t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
	}
}

func TestBuildSSHClientConfigLegacyAlgorithms(t *testing.T) {
	config := DefaultConfig("10.0.0.50", "Administrator")
	config.Password = "secret"
	config.StrictHostKeyChecking = false
	config.LegacyAlgorithms = true

	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		t.Fatalf("BuildSSHClientConfig() error = %v", err)
	}

	found := false
	for _, kex := range clientConfig.KeyExchanges {
		if kex == "diffie-hellman-group14-sha1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected legacy kex group14-sha1 in %v", clientConfig.KeyExchanges)
	}
}

func TestBuildSSHClientConfigKey(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")

	keyBytes, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	config := DefaultConfig("media.example.net", "stager")
	config.AuthMethod = AuthMethodKey
	config.PrivateKeyPath = keyPath
	config.StrictHostKeyChecking = false

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	clientConfig, err := config.BuildSSHClientConfig()
	if err != nil {
		t.Fatalf("BuildSSHClientConfig() error = %v", err)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
	}
}

func TestAddress(t *testing.T) {
	config := DefaultConfig("10.0.0.50", "Administrator")
	if got := config.Address(); got != "10.0.0.50:22" {
		t.Errorf("Address() = %q, want '10.0.0.50:22'", got)
	}

	config.ProxyHost = "bastion"
	config.ProxyPort = 2222
	if got := config.ProxyAddress(); got != "bastion:2222" {
		t.Errorf("ProxyAddress() = %q, want 'bastion:2222'", got)
	}
	if !config.IsProxyEnabled() {
		t.Error("IsProxyEnabled() = false, want true")
	}
}

// generateTestKey creates a throwaway ed25519 private key in PEM format.
func generateTestKey() ([]byte, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(pemBlock), nil
}
