package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/transports/ssh"
)

// Inventory is the set of managed iLO targets, loaded from a YAML file.
type Inventory struct {
	// Version is the inventory document version.
	Version int `yaml:"version" validate:"eq=1"`

	// Targets are the managed endpoints, keyed by Name for lookup.
	Targets []Target `yaml:"targets" validate:"required,min=1,dive"`
}

// Target describes one iLO endpoint and how to reach it.
type Target struct {
	// Name is the inventory handle used on the command line.
	Name string `yaml:"name" validate:"required"`

	// Host is the iLO address.
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port; zero means 22.
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`

	// User is the iLO account to log in as.
	User string `yaml:"user" validate:"required"`

	// PasswordEnv names the environment variable holding the password.
	// Passwords never live in the inventory file itself.
	PasswordEnv string `yaml:"password_env" validate:"required"`

	// LegacyAlgorithms enables the weak key exchange and ciphers old
	// iLO firmware still requires.
	LegacyAlgorithms bool `yaml:"legacy_algorithms"`

	// KnownHostsPath overrides the default known_hosts location.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// InsecureHostKey disables host key verification.
	InsecureHostKey bool `yaml:"insecure_host_key"`

	// Proxy is an optional jump host in user@host:port form.
	Proxy string `yaml:"proxy"`

	// ProxyPasswordEnv names the env variable with the jump host
	// password, when the proxy does not accept the agent.
	ProxyPasswordEnv string `yaml:"proxy_password_env"`

	// CommandTimeout bounds a single CLP command; zero keeps the
	// transport default.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Labels are free-form selectors for batch operations.
	Labels map[string]string `yaml:"labels"`
}

// Lookup finds a target by name, falling back to host match.
func (inv *Inventory) Lookup(name string) (*Target, bool) {
	for i := range inv.Targets {
		if inv.Targets[i].Name == name {
			return &inv.Targets[i], true
		}
	}
	for i := range inv.Targets {
		if inv.Targets[i].Host == name {
			return &inv.Targets[i], true
		}
	}
	return nil, false
}

// Select returns the targets whose labels include every pair in the
// selector. An empty selector matches everything.
func (inv *Inventory) Select(selector map[string]string) []*Target {
	var out []*Target
	for i := range inv.Targets {
		t := &inv.Targets[i]
		match := true
		for k, v := range selector {
			if t.Labels[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, t)
		}
	}
	return out
}

// ResolvePassword reads the target password from the environment.
func (t *Target) ResolvePassword() (string, error) {
	pw := os.Getenv(t.PasswordEnv)
	if pw == "" {
		return "", fmt.Errorf("environment variable %s is not set for target %s", t.PasswordEnv, t.Name)
	}
	return pw, nil
}

// SSHConfig renders the target as a transport configuration. The
// password is resolved from the environment here so it never transits
// through parsed documents.
func (t *Target) SSHConfig() (*ssh.Config, error) {
	pw, err := t.ResolvePassword()
	if err != nil {
		return nil, err
	}
	cfg := ssh.DefaultConfig(t.Host, t.User)
	cfg.Password = pw
	if t.Port != 0 {
		cfg.Port = t.Port
	}
	cfg.LegacyAlgorithms = t.LegacyAlgorithms
	cfg.StrictHostKeyChecking = !t.InsecureHostKey
	if t.KnownHostsPath != "" {
		cfg.KnownHostsPath = t.KnownHostsPath
	}
	if t.CommandTimeout > 0 {
		cfg.CommandTimeout = t.CommandTimeout
	}
	if t.Proxy != "" {
		user, host, port, err := splitProxy(t.Proxy)
		if err != nil {
			return nil, err
		}
		cfg.ProxyHost = host
		cfg.ProxyUser = user
		if port != 0 {
			cfg.ProxyPort = port
		}
		if t.ProxyPasswordEnv != "" {
			ppw := os.Getenv(t.ProxyPasswordEnv)
			if ppw == "" {
				return nil, fmt.Errorf("environment variable %s is not set for target %s proxy", t.ProxyPasswordEnv, t.Name)
			}
			cfg.ProxyPassword = ppw
		}
	}
	return cfg, nil
}

func splitProxy(s string) (user, host string, port int, err error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return "", "", 0, fmt.Errorf("proxy %q must be user@host[:port]", s)
	}
	user = s[:at]
	host = s[at+1:]
	if colon := strings.LastIndex(host, ":"); colon >= 0 {
		if _, perr := fmt.Sscanf(host[colon+1:], "%d", &port); perr != nil || port <= 0 || port > 65535 {
			return "", "", 0, fmt.Errorf("proxy %q has an invalid port", s)
		}
		host = host[:colon]
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("proxy %q must be user@host[:port]", s)
	}
	return user, host, port, nil
}

// Document is one desired-state file: the configuration every listed
// target should converge to.
type Document struct {
	// Version is the document version.
	Version int `yaml:"version" json:"version"`

	// Targets bind desired state to inventory targets.
	Targets []TargetState `yaml:"targets" json:"targets"`
}

// TargetState is the desired configuration of a single target.
type TargetState struct {
	// Target names the inventory entry this state applies to.
	Target string `yaml:"target" json:"target"`

	Power        *PowerSpec        `yaml:"power,omitempty" json:"power,omitempty"`
	Boot         *BootSpec         `yaml:"boot,omitempty" json:"boot,omitempty"`
	Hostname     string            `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Users        []UserSpec        `yaml:"users,omitempty" json:"users,omitempty"`
	VirtualMedia *VirtualMediaSpec `yaml:"virtual_media,omitempty" json:"virtual_media,omitempty"`
	RAID         []RaidSpec        `yaml:"raid,omitempty" json:"raid,omitempty"`
}

// PowerSpec is the desired power configuration.
type PowerSpec struct {
	State     string `yaml:"state,omitempty" json:"state,omitempty"`
	Force     bool   `yaml:"force,omitempty" json:"force,omitempty"`
	Regulator string `yaml:"regulator,omitempty" json:"regulator,omitempty"`
	AutoPower string `yaml:"auto_power,omitempty" json:"auto_power,omitempty"`
}

// BootSpec is the desired boot configuration.
type BootSpec struct {
	Mode    string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	OneTime string   `yaml:"one_time,omitempty" json:"one_time,omitempty"`
}

// UserSpec is one desired account. The password is resolved through
// PasswordEnv so documents stay safe to commit.
type UserSpec struct {
	Name           string   `yaml:"name" json:"name"`
	PasswordEnv    string   `yaml:"password_env,omitempty" json:"password_env,omitempty"`
	UpdatePassword bool     `yaml:"update_password,omitempty" json:"update_password,omitempty"`
	Privileges     []string `yaml:"privileges,omitempty" json:"privileges,omitempty"`
	Absent         bool     `yaml:"absent,omitempty" json:"absent,omitempty"`
}

// VirtualMediaSpec is the desired media mount.
type VirtualMediaSpec struct {
	Device   string `yaml:"device,omitempty" json:"device,omitempty"`
	ImageURL string `yaml:"image_url,omitempty" json:"image_url,omitempty"`
	BootOnce bool   `yaml:"boot_once,omitempty" json:"boot_once,omitempty"`
	Eject    bool   `yaml:"eject,omitempty" json:"eject,omitempty"`
}

// RaidSpec is one desired logical drive.
type RaidSpec struct {
	Controller string   `yaml:"controller" json:"controller"`
	VolumeName string   `yaml:"volume_name" json:"volume_name"`
	Level      string   `yaml:"level,omitempty" json:"level,omitempty"`
	Drives     []string `yaml:"drives,omitempty" json:"drives,omitempty"`
	Spares     []string `yaml:"spares,omitempty" json:"spares,omitempty"`
	SizeGB     int      `yaml:"size_gb,omitempty" json:"size_gb,omitempty"`
	Absent     bool     `yaml:"absent,omitempty" json:"absent,omitempty"`
}

// Requests converts the desired state into validated domain requests,
// in a stable order. Each request is validated here so a bad document
// fails before any connection is opened.
func (ts *TargetState) Requests() ([]domain.Request, error) {
	var reqs []domain.Request

	if ts.Power != nil {
		reqs = append(reqs, &domain.PowerRequest{
			State:     ts.Power.State,
			Force:     ts.Power.Force,
			Regulator: ts.Power.Regulator,
			AutoPower: ts.Power.AutoPower,
		})
	}
	if ts.Boot != nil {
		reqs = append(reqs, &domain.BootRequest{
			Mode:        canonicalBootMode(ts.Boot.Mode),
			Sources:     ts.Boot.Sources,
			OneTimeBoot: ts.Boot.OneTime,
		})
	}
	if ts.Hostname != "" {
		reqs = append(reqs, &domain.HostnameRequest{Hostname: ts.Hostname})
	}
	for i := range ts.Users {
		u := &ts.Users[i]
		req := &domain.UserRequest{
			Name:           u.Name,
			UpdatePassword: u.UpdatePassword,
			Privileges:     u.Privileges,
			Absent:         u.Absent,
		}
		if !u.Absent {
			if u.PasswordEnv == "" {
				return nil, fmt.Errorf("user %s: password_env is required", u.Name)
			}
			pw := os.Getenv(u.PasswordEnv)
			if pw == "" {
				return nil, fmt.Errorf("user %s: environment variable %s is not set", u.Name, u.PasswordEnv)
			}
			req.Password = pw
		}
		reqs = append(reqs, req)
	}
	if ts.VirtualMedia != nil {
		reqs = append(reqs, &domain.VirtualMediaRequest{
			Device:   ts.VirtualMedia.Device,
			ImageURL: ts.VirtualMedia.ImageURL,
			BootOnce: ts.VirtualMedia.BootOnce,
			Eject:    ts.VirtualMedia.Eject,
		})
	}
	for i := range ts.RAID {
		r := &ts.RAID[i]
		reqs = append(reqs, &domain.RaidRequest{
			Controller: r.Controller,
			VolumeName: r.VolumeName,
			Level:      r.Level,
			Drives:     r.Drives,
			Spares:     r.Spares,
			SizeGB:     r.SizeGB,
			Absent:     r.Absent,
		})
	}

	for _, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("target %s, domain %s: %w", ts.Target, req.Kind(), err)
		}
	}
	return reqs, nil
}

// canonicalBootMode accepts the lowercase spellings documents use and
// maps them onto the device spelling.
func canonicalBootMode(mode string) string {
	switch strings.ToLower(mode) {
	case "uefi":
		return domain.BootModeUEFI
	case "legacy":
		return domain.BootModeLegacy
	default:
		return mode
	}
}

// ParseError reports a document that failed schema validation or
// decoding, with enough position detail to fix it.
type ParseError struct {
	File    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }
