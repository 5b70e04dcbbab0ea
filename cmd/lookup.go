package cmd

import (
	"fmt"
	"net/netip"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <router> <address>",
	Short: "Converges the simulation and resolves an address in a router's forwarding table",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		addr, err := netip.ParseAddr(args[1])
		if err != nil {
			panic(err)
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			panic(err)
		}
		sim, err := core.LoadSimulation(cfg)
		if err != nil {
			panic(err)
		}
		defer sim.Close()
		if _, err := sim.RunUntilConverged(cfg.MaxRounds); err != nil {
			panic(err)
		}

		router := state.RouterId(args[0])
		e, ok, err := sim.Lookup(router, addr)
		if err != nil {
			panic(err)
		}
		switch {
		case !ok:
			fmt.Printf("%s: no route to %s\n", router, addr)
		case e.Local:
			fmt.Printf("%s: %s is local (%s, %s)\n", router, addr, e.Prefix, e.Protocol)
		default:
			fmt.Printf("%s: %s via %s (%s, %s)\n", router, addr, e.Nh, e.Prefix, e.Protocol)
		}

		summary, err := sim.Summarize(router)
		if err != nil {
			panic(err)
		}
		fmt.Printf("reachable: %v\n", summary)
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(lookupCmd)
}
