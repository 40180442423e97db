package clp

import (
	"errors"
	"testing"
)

const bootConfigOutput = `status=0
status_tag=COMMAND COMPLETED
Tue Aug 26 10:01:32 2026

/system1/bootconfig1
  Targets
    oemhp_uefibootsource1
    oemhp_uefibootsource2
  Properties
    oemhp_bootmode=UEFI
    oemhp_pendingbootmode=UEFI
  Verbs
    cd version exit show set
`

const vmOutput = `VM Applet = Disconnected
Boot Option = BOOT_ONCE
Write Protect = Yes
Image Inserted = Connected
Image Connected = yes
Image URL = http://10.0.0.5/images/rhel9.iso
`

func TestParseBlocks(t *testing.T) {
	doc, err := Parse(bootConfigOutput, 0)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	resp := doc.Response
	if !resp.StatusPresent || resp.StatusCode != 0 {
		t.Errorf("status = %d (present=%v), want 0", resp.StatusCode, resp.StatusPresent)
	}
	if resp.StatusTag != "COMMAND COMPLETED" {
		t.Errorf("status_tag = %q, want COMMAND COMPLETED", resp.StatusTag)
	}

	block := doc.Block("/system1/bootconfig1")
	if block == nil {
		t.Fatal("block /system1/bootconfig1 not found")
	}
	if got, _ := block.Get("oemhp_bootmode"); got != "UEFI" {
		t.Errorf("oemhp_bootmode = %q, want UEFI", got)
	}
	if len(block.Targets) != 2 || block.Targets[0] != "oemhp_uefibootsource1" {
		t.Errorf("targets = %v, want uefibootsource listing", block.Targets)
	}
	if len(block.Verbs) != 5 {
		t.Errorf("verbs = %v, want 5 tokens", block.Verbs)
	}
}

func TestParsePropertyOrderPreserved(t *testing.T) {
	doc, err := Parse(vmOutput, 0)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	block := doc.Block("")
	if block == nil {
		t.Fatal("implicit block not found")
	}

	want := []string{"VM Applet", "Boot Option", "Write Protect", "Image Inserted", "Image Connected", "Image URL"}
	if len(block.Properties) != len(want) {
		t.Fatalf("got %d properties, want %d", len(block.Properties), len(want))
	}
	for i, name := range want {
		if block.Properties[i].Name != name {
			t.Errorf("property[%d] = %q, want %q", i, block.Properties[i].Name, name)
		}
	}
	if got, _ := block.Get("Image URL"); got != "http://10.0.0.5/images/rhel9.iso" {
		t.Errorf("Image URL = %q", got)
	}
}

func TestParseStatusVariants(t *testing.T) {
	tests := []struct {
		name        string
		output      string
		wantPresent bool
		wantCode    int
		wantTag     string
	}{
		{
			name:        "zero status",
			output:      "status=0\nstatus_tag=COMMAND COMPLETED\n",
			wantPresent: true,
			wantCode:    0,
			wantTag:     "COMMAND COMPLETED",
		},
		{
			name:        "error status",
			output:      "status=2\nstatus_tag=COMMAND PROCESSING FAILED\nerror_tag=COMMAND SYNTAX ERROR\n",
			wantPresent: true,
			wantCode:    2,
			wantTag:     "COMMAND PROCESSING FAILED",
		},
		{
			name:        "no status header",
			output:      "Server power is currently: On\n",
			wantPresent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.output, 0)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			resp := doc.Response
			if resp.StatusPresent != tt.wantPresent {
				t.Errorf("StatusPresent = %v, want %v", resp.StatusPresent, tt.wantPresent)
			}
			if resp.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if resp.StatusTag != tt.wantTag {
				t.Errorf("StatusTag = %q, want %q", resp.StatusTag, tt.wantTag)
			}
		})
	}
}

func TestParseSectionHeadingWithoutPath(t *testing.T) {
	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, b *PropertyBlock)
	}{
		{
			name:   "targets section",
			output: "Targets\n  Administrator\n",
			check: func(t *testing.T, b *PropertyBlock) {
				if len(b.Targets) != 1 || b.Targets[0] != "Administrator" {
					t.Errorf("targets = %v, want [Administrator]", b.Targets)
				}
			},
		},
		{
			name:   "properties section",
			output: "Properties\n  a=b\n",
			check: func(t *testing.T, b *PropertyBlock) {
				if got, _ := b.Get("a"); got != "b" {
					t.Errorf("a = %q, want b", got)
				}
			},
		},
		{
			name:   "verbs section",
			output: "Verbs\n  cd show set\n",
			check: func(t *testing.T, b *PropertyBlock) {
				if len(b.Verbs) != 3 {
					t.Errorf("verbs = %v, want 3 tokens", b.Verbs)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.output, 0)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(doc.Blocks) != 1 {
				t.Fatalf("got %d blocks, want 1 implicit block", len(doc.Blocks))
			}
			if doc.Blocks[0].Path != "" {
				t.Errorf("implicit block path = %q, want empty", doc.Blocks[0].Path)
			}
			tt.check(t, doc.Blocks[0])
		})
	}
}

func TestParseFreeTextKept(t *testing.T) {
	doc, err := Parse("Server power is currently: On\n", 0)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got, ok := doc.Response.FindLine("Server power is currently:")
	if !ok || got != "On" {
		t.Errorf("FindLine = %q (ok=%v), want On", got, ok)
	}
}

func TestParseMalformedProperty(t *testing.T) {
	output := "status=0\n/system1\n  Properties\n    garbage line without equals\n"
	_, err := Parse(output, 0)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
}

func TestParseNoValueCoercion(t *testing.T) {
	doc, err := Parse("/system1\n  Properties\n    enabledstate=enabled\n    number_of_slots=12\n", 0)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	block := doc.Block("/system1")
	if v, _ := block.Get("number_of_slots"); v != "12" {
		t.Errorf("number_of_slots = %q, want string \"12\"", v)
	}
}

func TestHasTargetCaseInsensitive(t *testing.T) {
	doc, err := Parse("status=0\n/map1/accounts1\n  Targets\n    Administrator\n    deploy\n", 0)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	block := doc.Block("/map1/accounts1")
	if !block.HasTarget("administrator") {
		t.Error("HasTarget(administrator) = false, want true")
	}
	if block.HasTarget("operator") {
		t.Error("HasTarget(operator) = true, want false")
	}
}
