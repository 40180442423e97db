package domain

import (
	"fmt"

	"github.com/piwi3910/iloctl/pkg/clp"
)

const dnsEndpointPath = "/map1/dnsendpt1"

// HostnameState is the decoded management hostname.
type HostnameState struct {
	Hostname string
}

func (s *HostnameState) Kind() Kind { return KindHostname }

func (s *HostnameState) Fields() map[string]string {
	return map[string]string{"hostname": s.Hostname}
}

// HostnameRequest sets the management hostname.
type HostnameRequest struct {
	Hostname string
}

func (r *HostnameRequest) Kind() Kind { return KindHostname }

func (r *HostnameRequest) Validate() error {
	if r.Hostname == "" {
		return &RequestError{Message: "hostname is required"}
	}
	return nil
}

// HostnameHandler decodes and plans the hostname domain.
type HostnameHandler struct{}

func (HostnameHandler) Kind() Kind { return KindHostname }

func (HostnameHandler) FetchCommands(Request) []Command {
	return []Command{{Text: "show " + dnsEndpointPath}}
}

func (HostnameHandler) Decode(docs []*clp.Document) (State, error) {
	if len(docs) != 1 {
		return nil, newMissing("hostname response")
	}
	block := docs[0].Block(dnsEndpointPath)
	if block == nil {
		return nil, newMissing(dnsEndpointPath)
	}
	name, ok := block.Get("Hostname")
	if !ok {
		return nil, newMissing("Hostname")
	}
	return &HostnameState{Hostname: name}, nil
}

func (h HostnameHandler) Plan(current State, req Request) ([]Command, error) {
	cur, ok := current.(*HostnameState)
	if !ok {
		return nil, badKind(h, req)
	}
	r, ok := req.(*HostnameRequest)
	if !ok {
		return nil, badKind(h, req)
	}
	if cur.Hostname == r.Hostname {
		return nil, nil
	}
	return []Command{{Text: fmt.Sprintf("set %s Hostname=%s", dnsEndpointPath, r.Hostname)}}, nil
}

func (h HostnameHandler) Verify(final State, req Request) (VerifyResult, string) {
	cur, ok := final.(*HostnameState)
	if !ok {
		return VerifyMismatch, "wrong state type"
	}
	r := req.(*HostnameRequest)
	if cur.Hostname != r.Hostname {
		return VerifyMismatch, fmt.Sprintf("hostname is %q, requested %q", cur.Hostname, r.Hostname)
	}
	return VerifyConverged, ""
}
