package domain

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// renderOutputs produces the device transcript that would decode to the
// given state, one output string per fetch command of the domain.
func renderOutputs(t *testing.T, state State) []string {
	t.Helper()
	switch s := state.(type) {
	case *PowerState:
		return renderPowerOutputs(s)
	case *HostnameState:
		return renderHostnameOutputs(s)
	case *VirtualMediaState:
		return renderVirtualMediaOutputs(s)
	case *UserState:
		return renderUserOutputs(s)
	}
	t.Fatalf("no renderer for %T", state)
	return nil
}

func renderPowerOutputs(s *PowerState) []string {
	power := "Off"
	if s.On {
		power = "On"
	}
	// The device displays a delayed auto power setting as a sentence.
	autoPwr := s.AutoPower
	if autoPwr != "" && unicode.IsDigit(rune(autoPwr[0])) {
		autoPwr = fmt.Sprintf("On (%s seconds)", s.AutoPower)
	}
	settings := fmt.Sprintf(`status=0
status_tag=COMMAND COMPLETED

/system1/oemhp_power1
  Properties
    oemhp_powerreg=%s
    oemhp_auto_pwr=%s
`, s.Regulator, autoPwr)
	return []string{"Server power is currently: " + power + "\n", settings}
}

func renderHostnameOutputs(s *HostnameState) []string {
	return []string{fmt.Sprintf(`status=0
status_tag=COMMAND COMPLETED

/map1/dnsendpt1
  Properties
    Hostname=%s
`, s.Hostname)}
}

func renderVirtualMediaOutputs(s *VirtualMediaState) []string {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	writeProtect := "No"
	if s.WriteProtect {
		writeProtect = "Yes"
	}
	inserted := "Disconnected"
	if s.Inserted {
		inserted = "Connected"
	}
	return []string{fmt.Sprintf(`VM Applet = Disconnected
Boot Option = %s
Write Protect = %s
Image Inserted = %s
Image Connected = %s
Image URL = %s
`, s.BootOption, writeProtect, inserted, yesNo(s.Connected), s.ImageURL)}
}

func renderUserOutputs(s *UserState) []string {
	var listing strings.Builder
	listing.WriteString("status=0\nstatus_tag=COMMAND COMPLETED\n\n/map1/accounts1\n  Targets\n")
	for _, name := range s.Accounts {
		listing.WriteString("    " + name + "\n")
	}
	listing.WriteString("  Verbs\n    cd version exit show create delete\n")

	detail := "status=2\nstatus_tag=COMMAND PROCESSING FAILED\nInvalid property.\n"
	if s.Exists {
		detail = fmt.Sprintf(`status=0
status_tag=COMMAND COMPLETED

/map1/accounts1/%s
  Properties
    username=%s
    group=%s
`, s.Name, s.Name, strings.Join(s.Groups, ","))
	}
	return []string{listing.String(), detail}
}

// TestDecodeInvertsRendering checks that a state a device can report
// comes back unchanged from each decoder when fed that report.
func TestDecodeInvertsRendering(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		state   State
	}{
		{
			name:    "power on with delayed auto power",
			handler: PowerHandler{},
			state:   &PowerState{On: true, Regulator: "max", AutoPower: "15"},
		},
		{
			name:    "power off with restore",
			handler: PowerHandler{},
			state:   &PowerState{On: false, Regulator: "dynamic", AutoPower: "restore"},
		},
		{
			name:    "hostname",
			handler: HostnameHandler{},
			state:   &HostnameState{Hostname: "ilo-rack2-node11"},
		},
		{
			name:    "mounted virtual media",
			handler: VirtualMediaHandler{},
			state: &VirtualMediaState{
				Device:       MediaCDROM,
				ImageURL:     "http://10.0.0.5/images/rhel9.iso",
				Inserted:     true,
				Connected:    true,
				BootOption:   MediaBootOnce,
				WriteProtect: true,
			},
		},
		{
			name:    "empty virtual media",
			handler: VirtualMediaHandler{},
			state:   &VirtualMediaState{Device: MediaCDROM, BootOption: MediaNoBoot},
		},
		{
			name:    "existing user",
			handler: UserHandler{},
			state: &UserState{
				Accounts: []string{"Administrator", "deploy"},
				Exists:   true,
				Name:     "deploy",
				Groups:   []string{"admin", "oemhp_rc"},
			},
		},
		{
			name:    "absent user",
			handler: UserHandler{},
			state:   &UserState{Accounts: []string{"Administrator"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var docs []*clp.Document
			for _, out := range renderOutputs(t, tt.state) {
				docs = append(docs, mustParse(t, out))
			}
			got, err := tt.handler.Decode(docs)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.state) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.state)
			}
		})
	}
}
