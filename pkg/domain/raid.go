package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// RAID levels the controller accepts for logical drive creation.
var raidLevels = map[string]bool{
	"0": true, "1": true, "5": true, "6": true,
	"1+0": true, "50": true, "60": true,
}

// PhysicalDrive is one physical disk attached to a controller.
type PhysicalDrive struct {
	Label    string
	Status   string
	Location string
}

// LogicalDrive is one configured volume.
type LogicalDrive struct {
	Label          string
	VolumeName     string
	Status         string
	Capacity       string
	FaultTolerance string
	Drives         []PhysicalDrive
}

// Controller is one storage controller with its drives.
type Controller struct {
	Label           string
	Model           string
	Status          string
	SerialNumber    string
	FirmwareVersion string
	LogicalDrives   []LogicalDrive
	UnassignedBays  []string
}

// HostPort is one backplane host port with its zoned drive bays.
type HostPort struct {
	Index      string
	NodeNumber string
	SlotNumber string
	Bays       []string
}

// Backplane describes the drive backplane when the platform has one.
type Backplane struct {
	TypeID        string
	SEPNodeID     string
	WWID          string
	SEPID         string
	Name          string
	FirmwareRev   string
	BayCount      int
	StartBay      int
	HostPortCount int
	HostPorts     []HostPort
}

// RaidState is the decoded storage snapshot. Backplane and ZonePorts are
// nil on platforms without drive zoning support; that is a valid state,
// not an error.
type RaidState struct {
	Controllers []Controller
	Backplane   *Backplane
	ZonePorts   []HostPort
}

func (s *RaidState) Kind() Kind { return KindRAID }

func (s *RaidState) Fields() map[string]string {
	fields := map[string]string{
		"controllers": strconv.Itoa(len(s.Controllers)),
	}
	for _, c := range s.Controllers {
		var names []string
		for _, ld := range c.LogicalDrives {
			names = append(names, ld.VolumeName)
		}
		fields["controller:"+c.Label] = strings.Join(names, ", ")
	}
	if s.Backplane != nil {
		fields["backplane"] = s.Backplane.Name
		fields["backplane_bays"] = strconv.Itoa(s.Backplane.BayCount)
	}
	return fields
}

// controllerByLabel matches a controller by label, model, or serial.
func (s *RaidState) controllerByLabel(label string) *Controller {
	for i := range s.Controllers {
		c := &s.Controllers[i]
		if strings.EqualFold(c.Label, label) || strings.EqualFold(c.Model, label) || c.SerialNumber == label {
			return c
		}
	}
	return nil
}

func (c *Controller) volume(name string) *LogicalDrive {
	for i := range c.LogicalDrives {
		if c.LogicalDrives[i].VolumeName == name {
			return &c.LogicalDrives[i]
		}
	}
	return nil
}

// RaidRequest creates or deletes one logical drive.
type RaidRequest struct {
	// Controller selects the controller by label, model, or serial.
	Controller string

	// VolumeName names the logical drive.
	VolumeName string

	// Level is the RAID level for creation.
	Level string

	// Drives are physical drive labels (port:box:bay) for creation.
	// At least two are required.
	Drives []string

	// Spares are optional spare drive labels.
	Spares []string

	// SizeGB caps the volume size; zero uses the full extent.
	SizeGB int

	// Absent requests deletion. Deleting a volume that does not exist
	// is a no-op.
	Absent bool
}

func (r *RaidRequest) Kind() Kind { return KindRAID }

func (r *RaidRequest) Validate() error {
	if r.Controller == "" {
		return &RequestError{Message: "controller is required"}
	}
	if r.VolumeName == "" {
		return &RequestError{Message: "volume name is required"}
	}
	if r.Absent {
		return nil
	}
	if !raidLevels[r.Level] {
		return &RequestError{Message: fmt.Sprintf("invalid RAID level %q", r.Level)}
	}
	if len(r.Drives) < 2 {
		return &RequestError{Message: "at least two physical drives are required"}
	}
	return nil
}

// RAIDHandler decodes and plans the storage domain. Reads and writes use
// the RIBCL XML sublanguage; the session is already authenticated so no
// credential envelope is rendered.
type RAIDHandler struct{}

func (RAIDHandler) Kind() Kind { return KindRAID }

// acceptUnsupported tolerates platforms without drive zoning. The decoder
// sees no tree and reports the capability as absent. Any other nonzero
// RIBCL status stays an error so a busy backplane keeps its class.
func acceptUnsupported(doc *clp.Document) error {
	if resp := findRIBCLResponse(doc); resp != nil {
		status := resp.Attr("STATUS")
		if status != "" && status != "0x0000" && isUnsupportedText(resp.Attr("MESSAGE")) {
			return ErrAlreadySatisfied
		}
	}
	return checkRIBCLStatus(doc)
}

func isUnsupportedText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not supported") || strings.Contains(lower, "unsupported")
}

func findRIBCLResponse(doc *clp.Document) *clp.Element {
	for _, tree := range doc.Trees {
		if tree.Tag == "RESPONSE" {
			return tree
		}
		if resp := tree.Find("RESPONSE"); resp != nil {
			return resp
		}
	}
	return nil
}

func (RAIDHandler) FetchCommands(Request) []Command {
	return []Command{
		{Text: `<RIBCL VERSION="2.0"><SERVER_INFO MODE="read"><GET_EMBEDDED_HEALTH/></SERVER_INFO></RIBCL>`},
		{
			Text:  `<RIBCL VERSION="2.0"><HARD_DRIVE_ZONE MODE="read"><READ_BACKPLANE_INFO/></HARD_DRIVE_ZONE></RIBCL>`,
			Check: acceptUnsupported,
		},
		{
			Text:  `<RIBCL VERSION="2.0"><HARD_DRIVE_ZONE MODE="read"><READ_ZONE_TABLE/></HARD_DRIVE_ZONE></RIBCL>`,
			Check: acceptUnsupported,
		},
	}
}

func (RAIDHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 3 {
		return nil, newMissing("storage response")
	}
	state := &RaidState{}

	health := findTree(docs[0], "GET_EMBEDDED_HEALTH_DATA")
	if health == nil {
		return nil, newMissing("GET_EMBEDDED_HEALTH_DATA")
	}
	storage := health.Find("STORAGE")
	if storage != nil {
		for _, ce := range storage.FindAll("CONTROLLER") {
			ctrl := Controller{
				Label:           ce.ChildValue("LABEL"),
				Model:           ce.ChildValue("MODEL"),
				Status:          ce.ChildValue("STATUS"),
				SerialNumber:    ce.ChildValue("SERIAL_NUMBER"),
				FirmwareVersion: ce.ChildValue("FW_VERSION"),
			}
			for _, le := range ce.FindAll("LOGICAL_DRIVE") {
				ld := LogicalDrive{
					Label:          le.ChildValue("LABEL"),
					VolumeName:     le.ChildValue("VOLUME_NAME"),
					Status:         le.ChildValue("STATUS"),
					Capacity:       le.ChildValue("CAPACITY"),
					FaultTolerance: le.ChildValue("FAULT_TOLERANCE"),
				}
				for _, pe := range le.FindAll("PHYSICAL_DRIVE") {
					ld.Drives = append(ld.Drives, PhysicalDrive{
						Label:    pe.ChildValue("LABEL"),
						Status:   pe.ChildValue("STATUS"),
						Location: pe.ChildValue("LOCATION"),
					})
				}
				ctrl.LogicalDrives = append(ctrl.LogicalDrives, ld)
			}
			for _, de := range ce.FindAll("DRIVE_ENCLOSURE") {
				if bay := de.ChildValue("DRIVE_BAY"); bay != "" {
					ctrl.UnassignedBays = append(ctrl.UnassignedBays, bay)
				}
			}
			state.Controllers = append(state.Controllers, ctrl)
		}
	}

	if info := findTree(docs[1], "READ_BACKPLANE_INFO"); info != nil {
		bp, err := decodeBackplane(info)
		if err != nil {
			return nil, err
		}
		state.Backplane = bp
	}

	if zone := findTree(docs[2], "READ_ZONE_TABLE"); zone != nil {
		state.ZonePorts = decodeHostPorts(zone)
	}

	return state, nil
}

func findTree(doc *clp.Document, tag string) *clp.Element {
	for _, t := range doc.Trees {
		if t.Tag == tag {
			return t
		}
		if found := t.Find(tag); found != nil {
			return found
		}
	}
	return nil
}

func decodeBackplane(info *clp.Element) (*Backplane, error) {
	bp := &Backplane{
		TypeID:      info.ChildValue("TYPE_ID"),
		SEPNodeID:   info.ChildValue("SEP_NODE_ID"),
		WWID:        info.ChildValue("WWID"),
		SEPID:       info.ChildValue("SEP_ID"),
		Name:        info.ChildValue("BACKPLANE_NAME"),
		FirmwareRev: info.ChildValue("FW_REV"),
	}
	for field, dst := range map[string]*int{
		"BAY_CNT":       &bp.BayCount,
		"START_BAY":     &bp.StartBay,
		"HOST_PORT_CNT": &bp.HostPortCount,
	} {
		raw := info.ChildValue(field)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, newUnrecognized(field, raw)
		}
		*dst = n
	}
	bp.HostPorts = decodeHostPorts(info)
	return bp, nil
}

func decodeHostPorts(parent *clp.Element) []HostPort {
	var ports []HostPort
	for _, pe := range parent.FindAll("HOST_PORT") {
		port := HostPort{
			Index:      pe.Value(),
			NodeNumber: pe.Attr("NODE_NUM"),
			SlotNumber: pe.Attr("SLOT_NUM"),
		}
		for _, be := range pe.FindAll("BAY") {
			port.Bays = append(port.Bays, be.Value())
		}
		ports = append(ports, port)
	}
	return ports
}

func (h RAIDHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*RaidState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*RaidRequest)
	if !ok {
		return nil, badKind(h, req)
	}

	ctrl := cur.controllerByLabel(r.Controller)
	if ctrl == nil {
		return nil, &PreconditionError{Message: fmt.Sprintf("controller not found: %q", r.Controller)}
	}
	existing := ctrl.volume(r.VolumeName)

	if r.Absent {
		if existing == nil {
			return nil, nil
		}
		return []Command{{
			Text:  renderDeleteVolume(ctrl.Label, r.VolumeName),
			Check: checkRIBCLStatus,
		}}, nil
	}

	if existing != nil {
		if want := "RAID " + r.Level; existing.FaultTolerance != want {
			return nil, &PreconditionError{Message: fmt.Sprintf(
				"volume %q exists with fault tolerance %q, requested %q; reshaping is not supported",
				r.VolumeName, existing.FaultTolerance, want)}
		}
		return nil, nil
	}

	return []Command{{
		Text:  renderCreateVolume(ctrl.Label, r),
		Check: checkRIBCLStatus,
	}}, nil
}

// checkRIBCLStatus fails a write command whose RESPONSE element carries a
// nonzero status. The MESSAGE attribute is the device's own error text.
func checkRIBCLStatus(doc *clp.Document) error {
	resp := findRIBCLResponse(doc)
	if resp == nil {
		return newMissing("RESPONSE element")
	}
	if status := resp.Attr("STATUS"); status != "0x0000" {
		return fmt.Errorf("device returned status %s: %s", status, resp.Attr("MESSAGE"))
	}
	return nil
}

func renderCreateVolume(controller string, r *RaidRequest) string {
	var b strings.Builder
	b.WriteString(`<RIBCL VERSION="2.0"><SERVER_INFO MODE="write">`)
	fmt.Fprintf(&b, `<CREATE_LOGICAL_DRIVE CONTROLLER=%q VOLUME_NAME=%q RAID_LEVEL=%q`,
		controller, r.VolumeName, r.Level)
	if r.SizeGB > 0 {
		fmt.Fprintf(&b, ` SIZE_GB="%d"`, r.SizeGB)
	}
	b.WriteString(">")
	for _, d := range r.Drives {
		fmt.Fprintf(&b, `<PHYSICAL_DRIVE VALUE=%q/>`, d)
	}
	for _, s := range r.Spares {
		fmt.Fprintf(&b, `<SPARE_DRIVE VALUE=%q/>`, s)
	}
	b.WriteString(`</CREATE_LOGICAL_DRIVE></SERVER_INFO></RIBCL>`)
	return b.String()
}

func renderDeleteVolume(controller, volume string) string {
	return fmt.Sprintf(
		`<RIBCL VERSION="2.0"><SERVER_INFO MODE="write"><DELETE_LOGICAL_DRIVE CONTROLLER=%q VOLUME_NAME=%q/></SERVER_INFO></RIBCL>`,
		controller, volume)
}

func (h RAIDHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*RaidState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*RaidRequest)

	ctrl := cur.controllerByLabel(r.Controller)
	if ctrl == nil {
		return VerifyMismatch, fmt.Sprintf("controller not found: %q", r.Controller)
	}
	vol := ctrl.volume(r.VolumeName)

	if r.Absent {
		if vol != nil {
			return VerifyMismatch, fmt.Sprintf("volume %q still present", r.VolumeName)
		}
		return VerifyConverged, ""
	}
	if vol == nil {
		// Controllers surface new volumes only after their background
		// initialization starts.
		return VerifyPending, fmt.Sprintf("volume %q not yet reported", r.VolumeName)
	}
	return VerifyConverged, ""
}
