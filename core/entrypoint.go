package core

import (
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/encodeous/routesim/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// NewLogger writes to stderr and, if logPath is set, appends plain text to that file as well
func NewLogger(level slog.Level, logPath string, prefix string) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// LoadSimulation validates cfg and builds a simulation from it: routers, links (explicit and mesh),
// OSPF stub prefixes and BGP advertisements. No rounds are run.
func LoadSimulation(cfg *state.SimCfg, opts ...Option) (*Simulation, error) {
	err := state.SimConfigValidator(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Workers > 0 {
		opts = append(opts, WithWorkers(cfg.Workers))
	}
	sim := NewSimulation(opts...)
	fail := func(err error) (*Simulation, error) {
		_ = sim.Close()
		return nil, err
	}

	for _, r := range cfg.Routers {
		role, err := r.Role()
		if err != nil {
			return fail(err)
		}
		if err := sim.AddRouter(r.Id, role); err != nil {
			return fail(err)
		}
		for _, stub := range r.Stubs {
			if err := sim.AdvertiseOSPFPrefix(r.Id, stub.Prefix, stub.Cost); err != nil {
				return fail(fmt.Errorf("router %s: %w", r.Id, err))
			}
		}
	}
	links, err := cfg.ExpandLinks()
	if err != nil {
		return fail(err)
	}
	for _, l := range links {
		if err := sim.Connect(l.A, l.B, l.Cost); err != nil {
			return fail(err)
		}
	}
	for _, adv := range cfg.Advertise {
		if err := sim.AdvertiseBGPRoute(adv.Router, adv.Prefix); err != nil {
			return fail(err)
		}
	}
	sim.log.Info("simulation loaded", "routers", len(cfg.Routers), "links", len(links), "advertisements", len(cfg.Advertise))
	return sim, nil
}
