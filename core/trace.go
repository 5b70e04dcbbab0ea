package core

import (
	"github.com/dustin/go-broadcast"
	"github.com/encodeous/routesim/state"
)

// Trace fans simulation events out to subscribers. Subscribers that fall behind lose events,
// the simulation never blocks on them.
type Trace struct {
	broadcast.Broadcaster
}

func NewTrace() *Trace {
	return &Trace{
		Broadcaster: broadcast.NewBroadcaster(state.TraceBufferSize),
	}
}

func (t *Trace) Publish(ev any) bool {
	return t.TrySubmit(ev)
}

func (t *Trace) Close() error {
	return t.Broadcaster.Close()
}
