package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

func loadConfig(path string) (*state.SimCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &state.SimCfg{}
	err = yaml.Unmarshal(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, state.SimConfigValidator(cfg)
}

func printReport(w io.Writer, report core.ConvergenceReport) {
	_, _ = fmt.Fprintf(w, "state: %s after %d rounds, %d changes\n", report.State, report.Rounds, report.Changes)
	for _, rs := range report.RoundStats {
		_, _ = fmt.Fprintf(w, "  round %d: %d updates, %d bgp, %d ospf, %d loops prevented, %d spf runs\n",
			rs.Round, rs.Updates, rs.BGPChanges, rs.OSPFChanges, rs.Loops, rs.SPFRuns)
	}
	if !report.Converged {
		_, _ = fmt.Fprintf(w, "unstable prefixes: %v\nunstable routers: %v\n", report.UnstablePrefixes, report.UnstableRouters)
	}
}

func printRibs(w io.Writer, sim *core.Simulation, only []string) error {
	sb := strings.Builder{}
	for _, id := range sim.Routers() {
		if len(only) > 0 && !slices.Contains(only, string(id)) {
			continue
		}
		role, _ := sim.Role(id)
		rib, err := sim.RibOf(id)
		if err != nil {
			return err
		}
		sb.WriteString(fmt.Sprintf("%s (%s)\n", id, role))
		for _, dst := range slices.Sorted(maps.Keys(rib)) {
			sb.WriteString(fmt.Sprintf("\t%s\t%s\n", dst, rib[dst]))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func ribJSON(sim *core.Simulation) ([]byte, error) {
	out := make(map[string]any)
	for _, id := range sim.Routers() {
		rib, err := sim.RibOf(id)
		if err != nil {
			return nil, err
		}
		table := make(map[string]any)
		for dst, r := range rib {
			entry := map[string]any{
				"nh":       string(r.NextHop()),
				"protocol": r.Protocol().String(),
			}
			switch rt := r.(type) {
			case state.BGPRoute:
				path := make([]any, 0, len(rt.ASPath))
				for _, as := range rt.ASPath {
					path = append(path, uint32(as))
				}
				entry["as_path"] = path
				entry["origin"] = string(rt.Origin)
			case state.OSPFRoute:
				entry["cost"] = rt.Cost
				entry["area"] = string(rt.Area)
				entry["adv"] = string(rt.AdvRouter)
			}
			table[dst] = entry
		}
		out[string(id)] = table
	}
	s, err := structpb.NewStruct(out)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
}
