package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/encodeous/routesim/core"
	"github.com/encodeous/routesim/perf"
	"github.com/encodeous/routesim/state"
	"github.com/spf13/cobra"
)

var (
	logPath     string
	metricsAddr string
	maxRounds   int
	asJSON      bool
	traceRoutes bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [router...]",
	Short: "Run the simulation until it converges",
	Long:  `Loads the simulation config, runs rounds until no routing table changes and prints the routing tables of the given routers, or of every router.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			panic(err)
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}
		log, err := core.NewLogger(level, logPath, "routesim")
		if err != nil {
			panic(err)
		}

		if metricsAddr != "" {
			go func() {
				err := http.ListenAndServe(metricsAddr, perf.Handler())
				if err != nil {
					log.Error("metrics server stopped", "err", err)
				}
			}()
		}

		sim, err := core.LoadSimulation(cfg, core.WithLogger(log))
		if err != nil {
			panic(err)
		}
		defer sim.Close()

		if traceRoutes {
			events := make(chan any, state.TraceBufferSize)
			if err := sim.Subscribe(events); err != nil {
				panic(err)
			}
			go func() {
				for ev := range events {
					if c, ok := ev.(core.RouteChange); ok {
						log.Info("route change", "round", c.Round, "router", c.Router, "dst", c.Destination, "old", c.Old, "new", c.New)
					}
				}
			}()
		}

		rounds := maxRounds
		if rounds == 0 {
			rounds = cfg.MaxRounds
		}
		report, err := sim.RunUntilConverged(rounds)
		if err != nil && !errors.Is(err, state.ErrNonConvergence) {
			panic(err)
		}
		if report.Converged {
			log.Info("simulation converged", "rounds", report.Rounds, "changes", report.Changes)
		} else {
			log.Warn("simulation aborted", "err", err)
		}

		printReport(os.Stdout, report)
		if asJSON {
			out, err := ribJSON(sim)
			if err != nil {
				panic(err)
			}
			fmt.Println(string(out))
		} else if err := printRibs(os.Stdout, sim, args); err != nil {
			panic(err)
		}
		if !report.Converged {
			os.Exit(2)
		}
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringVar(&logPath, "log", "", "Also write logs to this file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve /debug/metrics and /debug/vars on this address")
	runCmd.Flags().IntVarP(&maxRounds, "max-rounds", "r", 0, "Round ceiling, overrides max_rounds in the config")
	runCmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print routing tables as json")
	runCmd.Flags().BoolVarP(&traceRoutes, "trace", "t", false, "Log every route change")
}
