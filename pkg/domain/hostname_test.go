package domain

import (
	"testing"

	"github.com/piwi3910/iloctl/pkg/clp"
)

const dnsOutput = `status=0
status_tag=COMMAND COMPLETED

/map1/dnsendpt1
  Properties
    Hostname=ilo-rack4-node07
    DomainName=dc1.example.net
`

func TestHostnameDecodeAndPlan(t *testing.T) {
	docs := []*clp.Document{mustParse(t, dnsOutput)}
	state, err := HostnameHandler{}.Decode(docs)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := state.(*HostnameState).Hostname; got != "ilo-rack4-node07" {
		t.Errorf("Hostname = %q", got)
	}

	cmds, err := HostnameHandler{}.Plan(state, &HostnameRequest{Hostname: "ilo-rack4-node07"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Plan() = %d commands, want empty plan for matching hostname", len(cmds))
	}

	cmds, err = HostnameHandler{}.Plan(state, &HostnameRequest{Hostname: "ilo-rack4-node08"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Text != "set /map1/dnsendpt1 Hostname=ilo-rack4-node08" {
		t.Errorf("Plan() = %v", cmds)
	}
}
