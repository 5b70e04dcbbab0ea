package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the simulation config and prints it with the mesh expanded",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			panic(err)
		}
		links, err := cfg.ExpandLinks()
		if err != nil {
			panic(err)
		}
		cfg.Links = links
		cfg.Mesh = nil

		cfgYaml, err := yaml.Marshal(cfg)
		if err != nil {
			panic(err)
		}

		println("Config is valid")
		println(string(cfgYaml))
	},
	GroupID: "cfg",
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
