package domain

import (
	"strings"
	"testing"

	"github.com/piwi3910/iloctl/pkg/clp"
)

const vmMountedOutput = `VM Applet = Disconnected
Boot Option = BOOT_ONCE
Write Protect = Yes
Image Inserted = Connected
Image Connected = yes
Image URL = http://10.0.0.5/images/rhel9.iso
`

const vmEmptyOutput = `VM Applet = Disconnected
Boot Option = NO_BOOT
Write Protect = Yes
Image Inserted = Disconnected
Image Connected = no
Image URL =
`

func vmDocs(t *testing.T, output string) []*clp.Document {
	t.Helper()
	return []*clp.Document{mustParse(t, output)}
}

func TestVirtualMediaDecode(t *testing.T) {
	state, err := VirtualMediaHandler{}.Decode(vmDocs(t, vmMountedOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	vs := state.(*VirtualMediaState)
	if vs.ImageURL != "http://10.0.0.5/images/rhel9.iso" {
		t.Errorf("ImageURL = %q", vs.ImageURL)
	}
	if !vs.Inserted || !vs.Connected {
		t.Errorf("Inserted = %v, Connected = %v, want both true", vs.Inserted, vs.Connected)
	}
	if vs.BootOption != MediaBootOnce {
		t.Errorf("BootOption = %q, want BOOT_ONCE", vs.BootOption)
	}
}

func TestVirtualMediaValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "http://10.0.0.5/images/rhel9.iso"},
		{url: "https://mirror.example.com/esxi.iso"},
		{url: "nfs://10.0.0.9/exports/tools.iso"},
		{url: "ftp://10.0.0.5/images/rhel9.iso", wantErr: true},
		{url: "file:///tmp/x.iso", wantErr: true},
		{url: "http://", wantErr: true},
	}
	for _, tt := range tests {
		req := &VirtualMediaRequest{ImageURL: tt.url}
		err := req.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
		if tt.wantErr {
			if _, ok := err.(*RequestError); !ok {
				t.Errorf("Validate(%q) error type = %T, want *RequestError", tt.url, err)
			}
		}
	}
}

func TestVirtualMediaPlanIdempotentMount(t *testing.T) {
	state, err := VirtualMediaHandler{}.Decode(vmDocs(t, vmMountedOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	req := &VirtualMediaRequest{ImageURL: "http://10.0.0.5/images/rhel9.iso", BootOnce: true}
	cmds, err := VirtualMediaHandler{}.Plan(state, req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Plan() = %d commands, want empty plan for mounted image", len(cmds))
	}
}

func TestVirtualMediaPlanMountReplacesExisting(t *testing.T) {
	state, err := VirtualMediaHandler{}.Decode(vmDocs(t, vmMountedOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	req := &VirtualMediaRequest{ImageURL: "http://10.0.0.5/images/esxi8.iso", BootOnce: true}
	cmds, err := VirtualMediaHandler{}.Plan(state, req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []string{
		"vm cdrom set no_boot",
		"vm cdrom set disconnect",
		"vm cdrom eject",
		"vm cdrom insert http://10.0.0.5/images/esxi8.iso",
		"vm cdrom set connect",
		"vm cdrom set boot_once",
	}
	if len(cmds) != len(want) {
		t.Fatalf("Plan() = %d commands, want %d", len(cmds), len(want))
	}
	for i, w := range want {
		if cmds[i].Text != w {
			t.Errorf("command[%d] = %q, want %q", i, cmds[i].Text, w)
		}
	}
}

func TestVirtualMediaPlanEjectEmptyDrive(t *testing.T) {
	state, err := VirtualMediaHandler{}.Decode(vmDocs(t, vmEmptyOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	cmds, err := VirtualMediaHandler{}.Plan(state, &VirtualMediaRequest{Eject: true})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Plan() = %d commands, want empty plan for empty drive", len(cmds))
	}
}

func TestVirtualMediaEjectSoftSuccess(t *testing.T) {
	cmds := ejectSequence(MediaCDROM)
	last := cmds[len(cmds)-1]
	if !strings.HasSuffix(last.Text, "eject") {
		t.Fatalf("last command = %q, want eject", last.Text)
	}
	doc := mustParse(t, "No image present\n")
	if got := last.Check(doc); got != ErrAlreadySatisfied {
		t.Errorf("Check() = %v, want ErrAlreadySatisfied", got)
	}
}
