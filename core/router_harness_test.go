package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/routesim/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness is a Bus that records everything sent through it
type RouterHarness struct {
	actions []HarnessEvent
	updates []BGPUpdate
	loops   []LoopPreventedEvent
}

func (h *RouterHarness) SendUpdate(update BGPUpdate) {
	h.updates = append(h.updates, update)
	for _, r := range update.Announce {
		h.actions = append(h.actions, MakeEvent("ANNOUNCE", update.From, update.To, r.Prefix, r.PathString()))
	}
	for _, p := range update.Withdraw {
		h.actions = append(h.actions, MakeEvent("WITHDRAW", update.From, update.To, p))
	}
	for _, rt := range update.Retract {
		h.actions = append(h.actions, MakeEvent("RETRACT", update.From, update.To, rt.Prefix, rt.Origin, rt.Epoch))
	}
}

func (h *RouterHarness) LoopPrevented(ev LoopPreventedEvent) {
	h.loops = append(h.loops, ev)
	h.actions = append(h.actions, MakeEvent("LOOP_PREVENTED", ev.Router, ev.Neighbour, ev.Prefix))
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions returns and clears the recorded actions, logs excluded
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}
	h.actions = make([]HarnessEvent, 0)
	return x
}

// GetLogs returns and clears the recorded log events
func (h *RouterHarness) GetLogs() HarnessEvents {
	x := make([]HarnessEvent, 0)
	rest := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message == "LOG" {
			x = append(x, action)
		} else {
			rest = append(rest, action)
		}
	}
	h.actions = rest
	return x
}

func (h *RouterHarness) TakeUpdates() []BGPUpdate {
	u := h.updates
	h.updates = nil
	return u
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Prefix{})) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

func Neighs(pairs ...any) []BGPNeighbour {
	out := make([]BGPNeighbour, 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, BGPNeighbour{Id: state.RouterId(pairs[i].(string)), AS: state.ASN(pairs[i+1].(int))})
	}
	return out
}

var (
	pfxA = netip.MustParsePrefix("10.0.0.0/24")
	pfxB = netip.MustParsePrefix("10.0.1.0/24")
)
