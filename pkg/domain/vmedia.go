package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// Virtual media devices.
const (
	MediaCDROM  = "cdrom"
	MediaFloppy = "floppy"
)

// Boot options as the device reports them.
const (
	MediaBootAlways = "BOOT_ALWAYS"
	MediaBootOnce   = "BOOT_ONCE"
	MediaNoBoot     = "NO_BOOT"
)

// imageURLPattern accepts the transports iLO virtual media can fetch
// images over.
var imageURLPattern = regexp.MustCompile(`^(http|https|nfs)://[^\s/$.?#].[^\s]*$`)

// VirtualMediaState is the decoded virtual media snapshot for one device.
type VirtualMediaState struct {
	Device       string
	ImageURL     string
	Inserted     bool
	Connected    bool
	BootOption   string
	WriteProtect bool
}

func (s *VirtualMediaState) Kind() Kind { return KindVirtualMedia }

func (s *VirtualMediaState) Fields() map[string]string {
	return map[string]string{
		"device":        s.Device,
		"image_url":     s.ImageURL,
		"inserted":      fmt.Sprintf("%v", s.Inserted),
		"connected":     fmt.Sprintf("%v", s.Connected),
		"boot_option":   s.BootOption,
		"write_protect": fmt.Sprintf("%v", s.WriteProtect),
	}
}

// VirtualMediaRequest mounts or ejects a media image.
type VirtualMediaRequest struct {
	// Device selects the media device, cdrom by default.
	Device string

	// ImageURL is the image to mount. Must be reachable over http,
	// https, or nfs.
	ImageURL string

	// BootOnce arms the image for the next boot only.
	BootOnce bool

	// Eject unmounts whatever is inserted.
	Eject bool
}

func (r *VirtualMediaRequest) Kind() Kind { return KindVirtualMedia }

func (r *VirtualMediaRequest) device() string {
	if r.Device == "" {
		return MediaCDROM
	}
	return r.Device
}

func (r *VirtualMediaRequest) Validate() error {
	switch r.device() {
	case MediaCDROM, MediaFloppy:
	default:
		return &RequestError{Message: fmt.Sprintf("invalid media device %q", r.Device)}
	}
	if r.Eject && r.ImageURL != "" {
		return &RequestError{Message: "eject and image URL are mutually exclusive"}
	}
	if !r.Eject && r.ImageURL == "" {
		return &RequestError{Message: "an image URL or eject is required"}
	}
	if r.ImageURL != "" && !imageURLPattern.MatchString(r.ImageURL) {
		return &RequestError{Message: "Invalid URL format"}
	}
	return nil
}

// VirtualMediaHandler decodes and plans the virtual media domain.
type VirtualMediaHandler struct{}

func (VirtualMediaHandler) Kind() Kind { return KindVirtualMedia }

func (VirtualMediaHandler) FetchCommands(req Request) []Command {
	r := req.(*VirtualMediaRequest)
	return []Command{{Text: "vm " + r.device() + " get"}}
}

func (VirtualMediaHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 1 {
		return nil, newMissing("virtual media response")
	}
	block := docs[0].Block("")
	if block == nil {
		return nil, newMissing("virtual media listing")
	}

	state := &VirtualMediaState{Device: MediaCDROM}
	if url, ok := block.Get("Image URL"); ok {
		state.ImageURL = url
	}
	if v, ok := block.Get("Image Inserted"); ok {
		state.Inserted = strings.EqualFold(v, "Connected") || strings.EqualFold(v, "yes")
	}
	if v, ok := block.Get("Image Connected"); ok {
		state.Connected = strings.EqualFold(v, "yes")
	}
	if v, ok := block.Get("Write Protect"); ok {
		state.WriteProtect = strings.EqualFold(v, "yes")
	}
	opt, ok := block.Get("Boot Option")
	if !ok {
		return nil, newMissing("Boot Option")
	}
	switch opt {
	case MediaBootAlways, MediaBootOnce, MediaNoBoot:
		state.BootOption = opt
	default:
		return nil, newUnrecognized("Boot Option", opt)
	}
	return state, nil
}

func (h VirtualMediaHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*VirtualMediaState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*VirtualMediaRequest)
	if !ok {
		return nil, badKind(h, req)
	}
	dev := r.device()

	if r.Eject {
		if cur.ImageURL == "" && !cur.Inserted {
			return nil, nil
		}
		return ejectSequence(dev), nil
	}

	wantBoot := MediaBootAlways
	if r.BootOnce {
		wantBoot = MediaBootOnce
	}
	if cur.ImageURL == r.ImageURL && cur.Inserted && cur.BootOption == wantBoot {
		return nil, nil
	}

	var cmds []Command
	if cur.Inserted || cur.ImageURL != "" {
		cmds = append(cmds, ejectSequence(dev)...)
	}
	cmds = append(cmds,
		Command{Text: fmt.Sprintf("vm %s insert %s", dev, r.ImageURL)},
		Command{Text: fmt.Sprintf("vm %s set connect", dev)},
	)
	if r.BootOnce {
		cmds = append(cmds, Command{Text: fmt.Sprintf("vm %s set boot_once", dev)})
	} else {
		cmds = append(cmds, Command{Text: fmt.Sprintf("vm %s set boot_always", dev)})
	}
	return cmds, nil
}

// ejectSequence disarms, disconnects, and ejects the device. The eject
// itself tolerates an already-empty drive.
func ejectSequence(dev string) []Command {
	return []Command{
		{Text: fmt.Sprintf("vm %s set no_boot", dev)},
		{Text: fmt.Sprintf("vm %s set disconnect", dev)},
		{
			Text: fmt.Sprintf("vm %s eject", dev),
			Check: func(doc *clp.Document) error {
				if doc.Response.Contains("No image present") {
					return ErrAlreadySatisfied
				}
				return nil
			},
		},
	}
}

func (h VirtualMediaHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*VirtualMediaState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*VirtualMediaRequest)

	if r.Eject {
		if cur.Inserted || cur.ImageURL != "" {
			return VerifyMismatch, "image still present after eject"
		}
		return VerifyConverged, ""
	}

	if cur.ImageURL != r.ImageURL {
		return VerifyMismatch, fmt.Sprintf("image URL is %q, requested %q", cur.ImageURL, r.ImageURL)
	}
	if !cur.Inserted {
		return VerifyMismatch, "image not inserted"
	}
	wantBoot := MediaBootAlways
	if r.BootOnce {
		wantBoot = MediaBootOnce
	}
	if cur.BootOption != wantBoot {
		// BOOT_ONCE is consumed by the boot it armed.
		if r.BootOnce && cur.BootOption == MediaNoBoot {
			return VerifyConverged, ""
		}
		return VerifyMismatch, fmt.Sprintf("boot option is %q, requested %q", cur.BootOption, wantBoot)
	}
	return VerifyConverged, ""
}
