package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath = "sim.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "routesim",
	Short: "BGP and OSPF routing simulator",
	Long: `routesim simulates BGP path-vector and OSPF link-state routing over a virtual topology.
Routers exchange routes in discrete rounds until the network reaches a fixed point, after which every routing table can be inspected.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "sim",
		Title: "Simulation Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "cfg",
		Title: "Configuration",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "simulation config")
}
