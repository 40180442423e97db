package commands

import (
	"testing"

	"github.com/piwi3910/iloctl/pkg/domain"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand("1.0.0", "abcdef", "2026-01-01")

	want := []string{
		"power", "boot", "user", "vmedia", "raid", "hostname",
		"apply", "runs", "drift", "validate",
	}
	registered := make(map[string]bool)
	for _, sub := range root.Commands() {
		registered[sub.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestCanonicalBootMode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"uefi", domain.BootModeUEFI},
		{"legacy", domain.BootModeLegacy},
		{domain.BootModeUEFI, domain.BootModeUEFI},
		{"", ""},
		{"bogus", "bogus"},
	}
	for _, tt := range tests {
		if got := canonicalBootMode(tt.in); got != tt.want {
			t.Errorf("canonicalBootMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProbeRequest(t *testing.T) {
	tests := []struct {
		name     string
		kind     domain.Kind
		recorded map[string]string
		wantOK   bool
		wantKind domain.Kind
	}{
		{name: "power", kind: domain.KindPower, wantOK: true, wantKind: domain.KindPower},
		{name: "boot", kind: domain.KindBoot, wantOK: true, wantKind: domain.KindBoot},
		{name: "hostname", kind: domain.KindHostname, wantOK: true, wantKind: domain.KindHostname},
		{name: "virtual media", kind: domain.KindVirtualMedia, wantOK: true, wantKind: domain.KindVirtualMedia},
		{name: "raid", kind: domain.KindRAID, wantOK: true, wantKind: domain.KindRAID},
		{
			name:     "user with recorded name",
			kind:     domain.KindUser,
			recorded: map[string]string{"name": "monitor"},
			wantOK:   true,
			wantKind: domain.KindUser,
		},
		{
			name:     "user without recorded name",
			kind:     domain.KindUser,
			recorded: map[string]string{"accounts": "Administrator"},
			wantOK:   false,
		},
		{name: "unknown kind", kind: domain.Kind("fan"), wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, ok := probeRequest(tt.kind, tt.recorded)
			if ok != tt.wantOK {
				t.Fatalf("probeRequest ok = %t, want %t", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if req.Kind() != tt.wantKind {
				t.Errorf("probe request kind = %q, want %q", req.Kind(), tt.wantKind)
			}
		})
	}

	t.Run("user probe carries the recorded name", func(t *testing.T) {
		req, ok := probeRequest(domain.KindUser, map[string]string{"name": "monitor"})
		if !ok {
			t.Fatal("expected a probe request")
		}
		userReq, ok := req.(*domain.UserRequest)
		if !ok {
			t.Fatalf("probe request type = %T, want *domain.UserRequest", req)
		}
		if userReq.Name != "monitor" {
			t.Errorf("probe name = %q, want %q", userReq.Name, "monitor")
		}
	})
}
