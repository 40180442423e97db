package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/stores"
)

// driftReport is one domain's comparison between the stored snapshot
// and the device's live state.
type driftReport struct {
	Target  string            `json:"target"`
	Domain  string            `json:"domain"`
	Drifted bool              `json:"drifted"`
	Changes map[string]change `json:"changes,omitempty"`
}

type change struct {
	Recorded string `json:"recorded"`
	Live     string `json:"live"`
}

func newDriftCommand() *cobra.Command {
	var domainFilter string
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare recorded state snapshots against live devices",
		Long: `Compare recorded state snapshots against live devices.

Every reconciliation stores a snapshot of the state it decoded. drift
re-reads the same domains from the device and reports every field that
changed behind the engine's back. A non-zero exit distinguishes
detected drift from a clean comparison.`,
		Args: cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error {
			snapshots, err := rt.store.ListSnapshots(ctx, targetName)
			if err != nil {
				return err
			}
			var reports []driftReport
			var errs []string
			for _, snap := range snapshots {
				if domainFilter != "" && snap.Domain != domainFilter {
					continue
				}
				report, err := compareSnapshot(ctx, rt, snap)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s/%s: %v", snap.Target, snap.Domain, err))
					continue
				}
				if report == nil {
					continue
				}
				reports = append(reports, *report)
				if report.Drifted {
					_ = rt.tel.Events.PublishDriftDetected(report.Target, report.Domain, len(report.Changes))
				}
			}

			drifted := printDriftReports(reports, errs)
			if len(errs) > 0 {
				return fmt.Errorf("%d domains could not be compared", len(errs))
			}
			if drifted {
				return fmt.Errorf("drift detected")
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&domainFilter, "domain", "", "compare one domain only")
	return cmd
}

// compareSnapshot fetches the snapshot's domain from the device and
// diffs the fields. A nil report means the snapshot cannot be probed.
func compareSnapshot(ctx context.Context, rt *runtime, snap *stores.Snapshot) (*driftReport, error) {
	recorded, err := snap.FieldMap()
	if err != nil {
		return nil, err
	}
	req, ok := probeRequest(domain.Kind(snap.Domain), recorded)
	if !ok {
		return nil, nil
	}
	t, err := rt.namedTarget(snap.Target)
	if err != nil {
		return nil, err
	}
	state, err := rt.fetchState(ctx, t, req)
	if err != nil {
		return nil, err
	}

	report := &driftReport{
		Target:  snap.Target,
		Domain:  snap.Domain,
		Changes: diffFields(recorded, state.Fields()),
	}
	report.Drifted = len(report.Changes) > 0
	return report, nil
}

// diffFields reports every key whose value differs between the
// recorded snapshot and the live state, in either direction.
func diffFields(recorded, live map[string]string) map[string]change {
	changes := make(map[string]change)
	for k, rec := range recorded {
		if cur, ok := live[k]; !ok || cur != rec {
			changes[k] = change{Recorded: rec, Live: cur}
		}
	}
	for k, cur := range live {
		if _, ok := recorded[k]; !ok {
			changes[k] = change{Live: cur}
		}
	}
	return changes
}

// probeRequest builds the read-only request that refetches a domain.
// User snapshots are scoped to one account, so the recorded name is
// needed to probe them again.
func probeRequest(kind domain.Kind, recorded map[string]string) (domain.Request, bool) {
	switch kind {
	case domain.KindPower:
		return &domain.PowerRequest{}, true
	case domain.KindBoot:
		return &domain.BootRequest{}, true
	case domain.KindHostname:
		return &domain.HostnameRequest{}, true
	case domain.KindVirtualMedia:
		return &domain.VirtualMediaRequest{}, true
	case domain.KindRAID:
		return &domain.RaidRequest{}, true
	case domain.KindUser:
		name, ok := recorded["name"]
		if !ok || name == "" {
			return nil, false
		}
		return &domain.UserRequest{Name: name}, true
	default:
		return nil, false
	}
}

func printDriftReports(reports []driftReport, errs []string) bool {
	drifted := false
	for _, r := range reports {
		if r.Drifted {
			drifted = true
		}
	}
	if jsonOutput {
		printJSON(map[string]any{
			"drifted": drifted,
			"reports": reports,
			"errors":  errs,
		})
		return drifted
	}

	if len(reports) == 0 && len(errs) == 0 {
		fmt.Println("no snapshots recorded, run a reconciliation first")
		return false
	}
	for _, r := range reports {
		if !r.Drifted {
			fmt.Printf("%s/%s: in sync\n", r.Target, r.Domain)
			continue
		}
		fmt.Printf("%s/%s: drifted\n", r.Target, r.Domain)
		keys := make([]string, 0, len(r.Changes))
		for k := range r.Changes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c := r.Changes[k]
			fmt.Printf("  %-24s %q -> %q\n", k, c.Recorded, c.Live)
		}
	}
	for _, e := range errs {
		fmt.Printf("error: %s\n", e)
	}
	return drifted
}
