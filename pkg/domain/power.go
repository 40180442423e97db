package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// Power actions.
const (
	PowerOn       = "on"
	PowerOff      = "off"
	PowerReset    = "reset"
	PowerColdBoot = "cold_boot"
)

// Power regulator modes, as the device spells them.
var powerRegulators = map[string]bool{
	"dynamic": true,
	"max":     true,
	"min":     true,
	"os":      true,
}

// Automatic power-on settings after the device's display form is
// normalized.
var autoPowerValues = map[string]bool{
	"on": true, "15": true, "30": true, "45": true, "60": true,
	"random": true, "restore": true, "off": true,
}

// powerMarker introduces the power state line of the "power" command.
const powerMarker = "Server power is currently:"

// PowerState is the decoded power domain snapshot.
type PowerState struct {
	// On reports whether the host is powered on.
	On bool

	// Regulator is the power regulator mode (dynamic, max, min, os).
	Regulator string

	// AutoPower is the normalized automatic power-on setting.
	AutoPower string
}

func (s *PowerState) Kind() Kind { return KindPower }

func (s *PowerState) Fields() map[string]string {
	state := "off"
	if s.On {
		state = "on"
	}
	return map[string]string{
		"power":      state,
		"regulator":  s.Regulator,
		"auto_power": s.AutoPower,
	}
}

// PowerRequest is the desired partial power state. An empty field leaves
// the corresponding setting untouched.
type PowerRequest struct {
	// State is one of on, off, reset, cold_boot.
	State string

	// Force selects the hard (immediate) form of power off.
	Force bool

	Regulator string
	AutoPower string
}

func (r *PowerRequest) Kind() Kind { return KindPower }

func (r *PowerRequest) Validate() error {
	switch r.State {
	case "", PowerOn, PowerOff, PowerReset, PowerColdBoot:
	default:
		return &RequestError{Message: fmt.Sprintf("invalid power state %q", r.State)}
	}
	if r.Regulator != "" && !powerRegulators[r.Regulator] {
		return &RequestError{Message: fmt.Sprintf("invalid power regulator %q", r.Regulator)}
	}
	if r.AutoPower != "" && !autoPowerValues[r.AutoPower] {
		return &RequestError{Message: fmt.Sprintf("invalid auto power setting %q", r.AutoPower)}
	}
	return nil
}

// PowerHandler decodes and plans the power domain.
type PowerHandler struct{}

func (PowerHandler) Kind() Kind { return KindPower }

func (PowerHandler) FetchCommands(Request) []Command {
	return []Command{
		{Text: "power"},
		{Text: "show /system1/oemhp_power1"},
	}
}

func (PowerHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 2 {
		return nil, newMissing("power response")
	}

	raw, ok := docs[0].Response.FindLine(powerMarker)
	if !ok {
		return nil, newMissing("server power line")
	}
	state := &PowerState{}
	switch raw {
	case "On":
		state.On = true
	case "Off":
		state.On = false
	default:
		return nil, newUnrecognized("server power", raw)
	}

	block := docs[1].Block("/system1/oemhp_power1")
	if block == nil {
		block = docs[1].BlockPrefix("/system1/oemhp_power1")
	}
	if block != nil {
		if v, ok := block.Get("oemhp_powerreg"); ok {
			if !powerRegulators[v] {
				return nil, newUnrecognized("oemhp_powerreg", v)
			}
			state.Regulator = v
		}
		if v, ok := block.Get("oemhp_auto_pwr"); ok {
			norm, err := normalizeAutoPower(v)
			if err != nil {
				return nil, err
			}
			state.AutoPower = norm
		}
	}
	return state, nil
}

var autoPowerDelay = regexp.MustCompile(`^On \((\d+) seconds\)$`)

// normalizeAutoPower maps the device's display form of the automatic
// power-on setting onto the request vocabulary. "On (30 seconds)" means
// a 30 second delay and normalizes to "30".
func normalizeAutoPower(raw string) (string, error) {
	if m := autoPowerDelay.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	norm := strings.ToLower(raw)
	if !autoPowerValues[norm] {
		return "", newUnrecognized("oemhp_auto_pwr", raw)
	}
	return norm, nil
}

func (h PowerHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*PowerState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*PowerRequest)
	if !ok {
		return nil, badKind(h, req)
	}

	var cmds []Command
	switch r.State {
	case PowerOn:
		if !cur.On {
			cmds = append(cmds, Command{Text: "power on"})
		}
	case PowerOff:
		if cur.On {
			if r.Force {
				cmds = append(cmds, Command{Text: "power off hard"})
			} else {
				cmds = append(cmds, Command{Text: "power off"})
			}
		}
	case PowerReset:
		if !cur.On {
			return nil, &PreconditionError{Message: "cannot reset: server is powered off"}
		}
		cmds = append(cmds, Command{Text: "power reset"})
	case PowerColdBoot:
		if cur.On {
			cmds = append(cmds, Command{Text: "power off hard"})
		}
		cmds = append(cmds, Command{Text: "power on"})
	}

	if r.Regulator != "" && r.Regulator != cur.Regulator {
		cmds = append(cmds, Command{
			Text: "set /system1/oemhp_power1 oemhp_powerreg=" + r.Regulator,
		})
	}
	if r.AutoPower != "" && r.AutoPower != cur.AutoPower {
		cmds = append(cmds, Command{
			Text: "set /system1/oemhp_power1 oemhp_auto_pwr=" + r.AutoPower,
		})
	}
	return cmds, nil
}

func (h PowerHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*PowerState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*PowerRequest)

	switch r.State {
	case PowerOn, PowerColdBoot:
		if !cur.On {
			// Power-on is still propagating through POST.
			return VerifyPending, "server not yet reporting powered on"
		}
	case PowerOff:
		if cur.On {
			// Graceful shutdown is in flight.
			return VerifyPending, "server still reporting powered on"
		}
	case PowerReset:
		if !cur.On {
			return VerifyPending, "reset in flight"
		}
	}

	if r.Regulator != "" && cur.Regulator != r.Regulator {
		return VerifyMismatch, fmt.Sprintf("regulator is %q, requested %q", cur.Regulator, r.Regulator)
	}
	if r.AutoPower != "" && cur.AutoPower != r.AutoPower {
		return VerifyMismatch, fmt.Sprintf("auto power is %q, requested %q", cur.AutoPower, r.AutoPower)
	}
	return VerifyConverged, ""
}
