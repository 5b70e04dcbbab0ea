package state

import (
	"fmt"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return configErrorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return configErrorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

// SimConfigValidator checks everything that can be checked without building the topology.
// Duplicate links and unknown endpoints are reported by the topology itself.
func SimConfigValidator(cfg *SimCfg) error {
	roles := make(map[RouterId]Role, len(cfg.Routers))
	for _, r := range cfg.Routers {
		if err := NameValidator(string(r.Id)); err != nil {
			return err
		}
		if _, ok := roles[r.Id]; ok {
			return &DuplicateRouterError{Id: r.Id}
		}
		role, err := r.Role()
		if err != nil {
			return fmt.Errorf("router %s: %w", r.Id, err)
		}
		if role.IsBGP() && r.AS == 0 {
			return configErrorf("router %s: bgp routers need a non-zero as", r.Id)
		}
		if role.IsBGP() && len(r.Stubs) != 0 {
			return configErrorf("router %s: stubs are only supported on ospf routers", r.Id)
		}
		if role.IsOSPF() && r.Area == "" {
			return configErrorf("router %s: ospf routers need an area", r.Id)
		}
		for _, stub := range r.Stubs {
			if _, err := CheckPrefix(stub.Prefix); err != nil {
				return fmt.Errorf("router %s: %w", r.Id, err)
			}
			if err := checkCost(r.Id, r.Id, stub.Cost); err != nil {
				return err
			}
		}
		roles[r.Id] = role
	}
	links, err := cfg.ExpandLinks()
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := checkCost(l.A, l.B, l.Cost); err != nil {
			return err
		}
	}
	for _, adv := range cfg.Advertise {
		role, ok := roles[adv.Router]
		if !ok {
			return &UnknownRouterError{Id: adv.Router}
		}
		if !role.IsBGP() {
			return &RoleMismatchError{Id: adv.Router, Want: ProtoBGP, Have: role.Protocol}
		}
		if _, err := CheckPrefix(adv.Prefix); err != nil {
			return err
		}
	}
	if cfg.MaxRounds < 0 {
		return configErrorf("max_rounds must not be negative")
	}
	if cfg.Workers < 0 {
		return configErrorf("workers must not be negative")
	}
	return nil
}
