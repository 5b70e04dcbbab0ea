package state

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrConfiguration is the parent of every error caused by an invalid topology or advertisement request.
	ErrConfiguration  = errors.New("configuration error")
	ErrNonConvergence = errors.New("simulation did not converge")
	ErrInvariant      = errors.New("invariant violated")
)

// ConfigError is an invalid configuration that has no more specific error type
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

type DuplicateRouterError struct {
	Id RouterId
}

func (e *DuplicateRouterError) Error() string {
	return fmt.Sprintf("router %s already exists", e.Id)
}

func (e *DuplicateRouterError) Unwrap() error { return ErrConfiguration }

type UnknownRouterError struct {
	Id RouterId
}

func (e *UnknownRouterError) Error() string {
	return fmt.Sprintf("router %s does not exist", e.Id)
}

func (e *UnknownRouterError) Unwrap() error { return ErrConfiguration }

type InvalidCostError struct {
	A, B RouterId
	Cost int
}

func (e *InvalidCostError) Error() string {
	return fmt.Sprintf("invalid cost %d for link %s-%s, must be within [0, %d]", e.Cost, e.A, e.B, MaxLinkCost)
}

func (e *InvalidCostError) Unwrap() error { return ErrConfiguration }

type DuplicateLinkError struct {
	A, B RouterId
}

func (e *DuplicateLinkError) Error() string {
	return fmt.Sprintf("link %s-%s already exists", e.A, e.B)
}

func (e *DuplicateLinkError) Unwrap() error { return ErrConfiguration }

type SelfLinkError struct {
	Id RouterId
}

func (e *SelfLinkError) Error() string {
	return fmt.Sprintf("router %s cannot be linked to itself", e.Id)
}

func (e *SelfLinkError) Unwrap() error { return ErrConfiguration }

type UnknownLinkError struct {
	A, B RouterId
}

func (e *UnknownLinkError) Error() string {
	return fmt.Sprintf("link %s-%s does not exist", e.A, e.B)
}

func (e *UnknownLinkError) Unwrap() error { return ErrConfiguration }

// RoleMismatchError is returned when an operation needs a protocol the router does not speak
type RoleMismatchError struct {
	Id   RouterId
	Want Protocol
	Have Protocol
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("router %s speaks %s, operation requires %s", e.Id, e.Have, e.Want)
}

func (e *RoleMismatchError) Unwrap() error { return ErrConfiguration }

type InvalidPrefixError struct {
	Prefix string
	Reason string
}

func (e *InvalidPrefixError) Error() string {
	return fmt.Sprintf("invalid prefix %q: %s", e.Prefix, e.Reason)
}

func (e *InvalidPrefixError) Unwrap() error { return ErrConfiguration }

// NonConvergenceError reports the destinations that were still changing when the round ceiling was hit.
// The simulation state is left as it was after the last round and may be inspected.
type NonConvergenceError struct {
	Rounds           int
	UnstablePrefixes []netip.Prefix
	UnstableRouters  []RouterId
}

func (e *NonConvergenceError) Error() string {
	routers := make([]string, 0, len(e.UnstableRouters))
	for _, r := range e.UnstableRouters {
		routers = append(routers, string(r))
	}
	return fmt.Sprintf("no fixed point after %d rounds, unstable prefixes %v, unstable routers [%s]",
		e.Rounds, e.UnstablePrefixes, strings.Join(routers, " "))
}

func (e *NonConvergenceError) Unwrap() error { return ErrNonConvergence }

// InvariantError is a programming-contract failure. It is raised with panic at the point of detection
// and recovered into an error by the convergence driver.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Msg
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }
