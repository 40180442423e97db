package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// Boot modes, as the device spells them.
const (
	BootModeUEFI   = "UEFI"
	BootModeLegacy = "Legacy"
)

// One-time boot targets.
const (
	OneTimeBootNone    = "none"
	OneTimeBootUSB     = "usb"
	OneTimeBootIP      = "ip"
	OneTimeBootSmartLX = "smartstartLX"
	OneTimeBootNetDev1 = "netdev1"
)

// oneTimeBootDisplay maps the device's verbose one-time boot text onto
// the request vocabulary. The device varies capitalization, so lookup
// happens on the lowercased text.
var oneTimeBootDisplay = map[string]string{
	"no one-time boot":         OneTimeBootNone,
	"usb":                      OneTimeBootUSB,
	"intelligent provisioning": OneTimeBootIP,
	"smart start linux pe":     OneTimeBootSmartLX,
	"network device 1":         OneTimeBootNetDev1,
}

var oneTimeBootValues = map[string]bool{
	OneTimeBootNone: true, OneTimeBootUSB: true, OneTimeBootIP: true,
	OneTimeBootSmartLX: true, OneTimeBootNetDev1: true,
}

const bootConfigPath = "/system1/bootconfig1"

// BootSource is one UEFI boot source slot.
type BootSource struct {
	// Slot is the oemhp_uefibootsourceN index on the device.
	Slot int

	// Description is the device's human-readable source name.
	Description string

	// Order is the slot's position in the boot sequence. Only the
	// relative ordering is meaningful; firmware does not promise a
	// 1-based or contiguous numbering.
	Order int
}

// BootState is the decoded boot domain snapshot. Sources are ordered by
// the device's bootorder values.
type BootState struct {
	Mode string

	// PendingMode is set only when a mode change awaits the next
	// reboot; empty otherwise.
	PendingMode string

	Sources []BootSource

	OneTimeBoot string
}

func (s *BootState) Kind() Kind { return KindBoot }

func (s *BootState) Fields() map[string]string {
	fields := map[string]string{
		"mode":          s.Mode,
		"one_time_boot": s.OneTimeBoot,
	}
	if s.PendingMode != "" {
		fields["pending_mode"] = s.PendingMode
	}
	var descs []string
	for _, src := range s.Sources {
		descs = append(descs, src.Description)
	}
	fields["sources"] = strings.Join(descs, ", ")
	return fields
}

// sourceBySlot returns the source occupying a slot, or nil.
func (s *BootState) sourceBySlot(slot int) *BootSource {
	for i := range s.Sources {
		if s.Sources[i].Slot == slot {
			return &s.Sources[i]
		}
	}
	return nil
}

// sourceByDescription matches a source by name, case-insensitively.
func (s *BootState) sourceByDescription(desc string) *BootSource {
	for i := range s.Sources {
		if strings.EqualFold(s.Sources[i].Description, desc) {
			return &s.Sources[i]
		}
	}
	return nil
}

// BootRequest is the desired partial boot configuration.
type BootRequest struct {
	// Mode is the requested boot mode, applied at next reboot.
	Mode string

	// Sources is the requested boot order as source descriptions,
	// highest priority first. Every named source must exist.
	Sources []string

	// OneTimeBoot is the requested one-time boot target.
	OneTimeBoot string
}

func (r *BootRequest) Kind() Kind { return KindBoot }

func (r *BootRequest) Validate() error {
	switch r.Mode {
	case "", BootModeUEFI, BootModeLegacy:
	default:
		return &RequestError{Message: fmt.Sprintf("invalid boot mode %q", r.Mode)}
	}
	if r.OneTimeBoot != "" && !oneTimeBootValues[r.OneTimeBoot] {
		return &RequestError{Message: fmt.Sprintf("invalid one-time boot target %q", r.OneTimeBoot)}
	}
	seen := make(map[string]bool)
	for _, src := range r.Sources {
		key := strings.ToLower(src)
		if seen[key] {
			return &RequestError{Message: fmt.Sprintf("duplicate boot source %q", src)}
		}
		seen[key] = true
	}
	return nil
}

// BootHandler decodes and plans the boot domain.
type BootHandler struct{}

func (BootHandler) Kind() Kind { return KindBoot }

func (BootHandler) FetchCommands(Request) []Command {
	return []Command{
		{Text: "show -a " + bootConfigPath},
		{Text: "onetimeboot"},
	}
}

func (BootHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 2 {
		return nil, newMissing("boot response")
	}

	block := docs[0].Block(bootConfigPath)
	if block == nil {
		return nil, newMissing(bootConfigPath)
	}
	state := &BootState{}

	mode, ok := block.Get("oemhp_bootmode")
	if !ok {
		return nil, newMissing("oemhp_bootmode")
	}
	if mode != BootModeUEFI && mode != BootModeLegacy {
		return nil, newUnrecognized("oemhp_bootmode", mode)
	}
	state.Mode = mode

	if pending, ok := block.Get("oemhp_pendingbootmode"); ok && pending != mode {
		if pending != BootModeUEFI && pending != BootModeLegacy {
			return nil, newUnrecognized("oemhp_pendingbootmode", pending)
		}
		state.PendingMode = pending
	}

	for _, b := range docs[0].Blocks {
		slot, ok := bootSourceSlot(b.Path)
		if !ok {
			continue
		}
		desc, _ := b.Get("oemhp_description")
		rawOrder, ok := b.Get("bootorder")
		if !ok {
			return nil, newMissing("bootorder for " + b.Path)
		}
		order, err := strconv.Atoi(rawOrder)
		if err != nil {
			return nil, newUnrecognized("bootorder", rawOrder)
		}
		state.Sources = append(state.Sources, BootSource{
			Slot:        slot,
			Description: desc,
			Order:       order,
		})
	}
	sortSourcesByOrder(state.Sources)

	raw, ok := docs[1].Response.FindLine("one-time boot:")
	if !ok {
		// Some firmware prefixes the line differently.
		raw, ok = docs[1].Response.FindLine("One-time boot:")
	}
	if !ok {
		return nil, newMissing("one-time boot line")
	}
	target, ok := oneTimeBootDisplay[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return nil, newUnrecognized("one-time boot", raw)
	}
	state.OneTimeBoot = target

	return state, nil
}

// bootSourceSlot extracts the N of an oemhp_uefibootsourceN block path.
func bootSourceSlot(path string) (int, bool) {
	const prefix = bootConfigPath + "/oemhp_uefibootsource"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return 0, false
	}
	slot, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return slot, true
}

func sortSourcesByOrder(sources []BootSource) {
	// Insertion sort keeps equal-order slots in device order.
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sources[j].Order < sources[j-1].Order; j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
}

func orderedAscending(sources []*BootSource) bool {
	for i := 1; i < len(sources); i++ {
		if sources[i].Order <= sources[i-1].Order {
			return false
		}
	}
	return true
}

func (h BootHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*BootState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*BootRequest)
	if !ok {
		return nil, badKind(h, req)
	}

	var cmds []Command

	// Source order changes go out before a mode change so they apply to
	// the configuration the operator saw.
	if len(r.Sources) > 0 {
		ordered := make([]*BootSource, 0, len(r.Sources))
		for _, desc := range r.Sources {
			src := cur.sourceByDescription(desc)
			if src == nil {
				return nil, &PreconditionError{Message: fmt.Sprintf("boot source not found: %q", desc)}
			}
			ordered = append(ordered, src)
		}
		// Firmware may report orders that are not 1-based or not
		// contiguous. Only the relative order matters, so a sequence
		// that is already ascending is left alone; otherwise every
		// slot is renumbered to 1..n.
		if !orderedAscending(ordered) {
			for i, src := range ordered {
				want := i + 1
				if src.Order == want {
					continue
				}
				cmds = append(cmds, Command{
					Text: fmt.Sprintf("set %s/oemhp_uefibootsource%d bootorder=%d", bootConfigPath, src.Slot, want),
				})
			}
		}
	}

	if r.Mode != "" && r.Mode != cur.Mode && r.Mode != cur.PendingMode {
		cmds = append(cmds, Command{
			Text: "set " + bootConfigPath + " oemhp_pendingbootmode=" + r.Mode,
		})
	}

	if r.OneTimeBoot != "" && r.OneTimeBoot != cur.OneTimeBoot {
		cmds = append(cmds, Command{Text: "onetimeboot " + r.OneTimeBoot})
	}

	return cmds, nil
}

func (h BootHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*BootState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*BootRequest)

	if r.Mode != "" && cur.Mode != r.Mode {
		if cur.PendingMode == r.Mode {
			return VerifyPending, "boot mode change applies at next reboot"
		}
		return VerifyMismatch, fmt.Sprintf("boot mode is %q, requested %q", cur.Mode, r.Mode)
	}

	for i, desc := range r.Sources {
		if i >= len(cur.Sources) || !strings.EqualFold(cur.Sources[i].Description, desc) {
			return VerifyMismatch, fmt.Sprintf("boot order position %d is not %q", i+1, desc)
		}
	}

	if r.OneTimeBoot != "" && cur.OneTimeBoot != r.OneTimeBoot {
		// The target is consumed by the boot it armed; reading none
		// afterwards is the setting working as intended.
		if cur.OneTimeBoot == OneTimeBootNone {
			return VerifyConverged, ""
		}
		return VerifyMismatch, fmt.Sprintf("one-time boot is %q, requested %q", cur.OneTimeBoot, r.OneTimeBoot)
	}

	return VerifyConverged, ""
}
