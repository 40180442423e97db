package domain

import (
	"strings"
	"testing"

	"github.com/piwi3910/iloctl/pkg/clp"
)

const healthOutput = `<?xml version="1.0"?>
<RIBCL VERSION="2.23">
<RESPONSE STATUS="0x0000" MESSAGE="No error"/>
<GET_EMBEDDED_HEALTH_DATA>
  <STORAGE>
    <CONTROLLER>
      <LABEL VALUE="Controller on System Board"/>
      <MODEL VALUE="HPE Smart Array P408i-a SR Gen10"/>
      <STATUS VALUE="OK"/>
      <SERIAL_NUMBER VALUE="PEYHB0DRHBY48Y"/>
      <FW_VERSION VALUE="2.65"/>
      <LOGICAL_DRIVE>
        <LABEL VALUE="01"/>
        <VOLUME_NAME VALUE="system"/>
        <STATUS VALUE="OK"/>
        <CAPACITY VALUE="279 GB"/>
        <FAULT_TOLERANCE VALUE="RAID 1"/>
        <PHYSICAL_DRIVE>
          <LABEL VALUE="1I:1:1"/>
          <STATUS VALUE="OK"/>
          <LOCATION VALUE="Port 1I Box 1 Bay 1"/>
        </PHYSICAL_DRIVE>
        <PHYSICAL_DRIVE>
          <LABEL VALUE="1I:1:2"/>
          <STATUS VALUE="OK"/>
          <LOCATION VALUE="Port 1I Box 1 Bay 2"/>
        </PHYSICAL_DRIVE>
      </LOGICAL_DRIVE>
    </CONTROLLER>
  </STORAGE>
</GET_EMBEDDED_HEALTH_DATA>
</RIBCL>
`

const backplaneOutput = `<?xml version="1.0"?>
<RIBCL VERSION="2.23">
<RESPONSE STATUS="0x0000" MESSAGE="No error"/>
<READ_BACKPLANE_INFO>
  <TYPE_ID VALUE="1"/>
  <SEP_NODE_ID VALUE="2"/>
  <WWID VALUE="50014380318db27f"/>
  <SEP_ID VALUE="0x0020"/>
  <BACKPLANE_NAME VALUE="HPE Apollo Backplane"/>
  <FW_REV VALUE="1.20"/>
  <BAY_CNT VALUE="8"/>
  <START_BAY VALUE="1"/>
  <HOST_PORT_CNT VALUE="2"/>
  <HOST_PORT VALUE="1" NODE_NUM="1" SLOT_NUM="1"/>
  <HOST_PORT VALUE="2" NODE_NUM="2" SLOT_NUM="2"/>
</READ_BACKPLANE_INFO>
</RIBCL>
`

const zoneOutput = `<?xml version="1.0"?>
<RIBCL VERSION="2.23">
<RESPONSE STATUS="0x0000" MESSAGE="No error"/>
<READ_ZONE_TABLE>
  <HOST_PORT VALUE="1">
    <BAY VALUE="1"/>
    <BAY VALUE="2"/>
  </HOST_PORT>
  <HOST_PORT VALUE="2">
    <BAY VALUE="3"/>
  </HOST_PORT>
</READ_ZONE_TABLE>
</RIBCL>
`

const unsupportedOutput = `<?xml version="1.0"?>
<RIBCL VERSION="2.23">
<RESPONSE STATUS="0x003a" MESSAGE="Feature not supported"/>
</RIBCL>
`

func raidDocs(t *testing.T, backplane, zone string) []*clp.Document {
	t.Helper()
	return []*clp.Document{
		mustParse(t, healthOutput),
		mustParse(t, backplane),
		mustParse(t, zone),
	}
}

func TestRAIDDecode(t *testing.T) {
	state, err := RAIDHandler{}.Decode(raidDocs(t, backplaneOutput, zoneOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	rs := state.(*RaidState)

	if len(rs.Controllers) != 1 {
		t.Fatalf("got %d controllers, want 1", len(rs.Controllers))
	}
	ctrl := rs.Controllers[0]
	if ctrl.Model != "HPE Smart Array P408i-a SR Gen10" {
		t.Errorf("Model = %q", ctrl.Model)
	}
	if len(ctrl.LogicalDrives) != 1 {
		t.Fatalf("got %d logical drives, want 1", len(ctrl.LogicalDrives))
	}
	ld := ctrl.LogicalDrives[0]
	if ld.VolumeName != "system" || ld.FaultTolerance != "RAID 1" || len(ld.Drives) != 2 {
		t.Errorf("logical drive = %+v", ld)
	}

	if rs.Backplane == nil {
		t.Fatal("Backplane = nil, want decoded backplane")
	}
	if rs.Backplane.BayCount != 8 || rs.Backplane.StartBay != 1 {
		t.Errorf("backplane bays = %d start %d", rs.Backplane.BayCount, rs.Backplane.StartBay)
	}
	if len(rs.Backplane.HostPorts) != 2 {
		t.Errorf("got %d host ports, want 2", len(rs.Backplane.HostPorts))
	}

	if len(rs.ZonePorts) != 2 || len(rs.ZonePorts[0].Bays) != 2 {
		t.Errorf("zone ports = %+v", rs.ZonePorts)
	}
}

func TestRAIDDecodeBackplaneUnsupported(t *testing.T) {
	state, err := RAIDHandler{}.Decode(raidDocs(t, unsupportedOutput, unsupportedOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v, want valid state on platforms without zoning", err)
	}
	rs := state.(*RaidState)
	if rs.Backplane != nil {
		t.Error("Backplane != nil, want nil for unsupported platform")
	}
	if rs.ZonePorts != nil {
		t.Error("ZonePorts != nil, want nil for unsupported platform")
	}
}

func TestRAIDFetchTolerantOfUnsupported(t *testing.T) {
	cmds := RAIDHandler{}.FetchCommands(&RaidRequest{})
	doc := mustParse(t, unsupportedOutput)
	for _, cmd := range cmds[1:] {
		if err := cmd.Check(doc); err != nil && err != ErrAlreadySatisfied {
			t.Errorf("Check(%q) = %v, want tolerated", cmd.Text, err)
		}
	}
}

func TestRAIDFetchBusyBackplaneFails(t *testing.T) {
	const busyOutput = `<?xml version="1.0"?>
<RIBCL VERSION="2.23">
<RESPONSE STATUS="0x0048" MESSAGE="The device is busy, try again later"/>
</RIBCL>
`
	cmds := RAIDHandler{}.FetchCommands(&RaidRequest{})
	doc := mustParse(t, busyOutput)
	for _, cmd := range cmds[1:] {
		err := cmd.Check(doc)
		if err == nil || err == ErrAlreadySatisfied {
			t.Errorf("Check(%q) = %v, want failure so a busy read keeps its class", cmd.Text, err)
		}
	}
}

func TestRAIDPlanCreate(t *testing.T) {
	state, err := RAIDHandler{}.Decode(raidDocs(t, backplaneOutput, zoneOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	req := &RaidRequest{
		Controller: "Controller on System Board",
		VolumeName: "data",
		Level:      "5",
		Drives:     []string{"2I:1:5", "2I:1:6", "2I:1:7"},
		Spares:     []string{"2I:1:8"},
		SizeGB:     500,
	}
	cmds, err := RAIDHandler{}.Plan(state, req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("Plan() = %d commands, want 1", len(cmds))
	}
	text := cmds[0].Text
	for _, want := range []string{
		`<CREATE_LOGICAL_DRIVE CONTROLLER="Controller on System Board" VOLUME_NAME="data" RAID_LEVEL="5" SIZE_GB="500">`,
		`<PHYSICAL_DRIVE VALUE="2I:1:5"/>`,
		`<SPARE_DRIVE VALUE="2I:1:8"/>`,
		`MODE="write"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("command missing %q in %q", want, text)
		}
	}
	if strings.Contains(text, "LOGIN") {
		t.Errorf("command carries a credential envelope: %q", text)
	}
}

func TestRAIDPlanIdempotent(t *testing.T) {
	state, err := RAIDHandler{}.Decode(raidDocs(t, backplaneOutput, zoneOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	// Existing volume with matching level: nothing to do.
	cmds, err := RAIDHandler{}.Plan(state, &RaidRequest{
		Controller: "Controller on System Board",
		VolumeName: "system",
		Level:      "1",
		Drives:     []string{"1I:1:1", "1I:1:2"},
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Plan() = %d commands, want empty plan", len(cmds))
	}

	// Deleting a volume that is not there is a no-op.
	cmds, err = RAIDHandler{}.Plan(state, &RaidRequest{
		Controller: "Controller on System Board",
		VolumeName: "scratch",
		Absent:     true,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Plan() = %d commands, want empty plan", len(cmds))
	}
}

func TestRAIDPlanLevelConflict(t *testing.T) {
	state, err := RAIDHandler{}.Decode(raidDocs(t, backplaneOutput, zoneOutput))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	_, err = RAIDHandler{}.Plan(state, &RaidRequest{
		Controller: "Controller on System Board",
		VolumeName: "system",
		Level:      "5",
		Drives:     []string{"1I:1:1", "1I:1:2"},
	})
	if _, ok := err.(*PreconditionError); !ok {
		t.Fatalf("Plan() error = %v, want *PreconditionError", err)
	}
}

func TestRAIDValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     RaidRequest
		wantErr bool
	}{
		{
			name: "valid create",
			req:  RaidRequest{Controller: "c", VolumeName: "v", Level: "1", Drives: []string{"a", "b"}},
		},
		{
			name:    "one drive",
			req:     RaidRequest{Controller: "c", VolumeName: "v", Level: "1", Drives: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "bad level",
			req:     RaidRequest{Controller: "c", VolumeName: "v", Level: "7", Drives: []string{"a", "b"}},
			wantErr: true,
		},
		{
			name: "absent needs no drives",
			req:  RaidRequest{Controller: "c", VolumeName: "v", Absent: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckRIBCLStatus(t *testing.T) {
	okDoc := mustParse(t, `<?xml version="1.0"?><RIBCL VERSION="2.23"><RESPONSE STATUS="0x0000" MESSAGE="No error"/></RIBCL>`)
	if err := checkRIBCLStatus(okDoc); err != nil {
		t.Errorf("checkRIBCLStatus() = %v, want nil", err)
	}
	failDoc := mustParse(t, `<?xml version="1.0"?><RIBCL VERSION="2.23"><RESPONSE STATUS="0x0042" MESSAGE="Drive in use"/></RIBCL>`)
	err := checkRIBCLStatus(failDoc)
	if err == nil || !strings.Contains(err.Error(), "Drive in use") {
		t.Errorf("checkRIBCLStatus() = %v, want device message surfaced", err)
	}
}
