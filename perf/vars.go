package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	RoundLatency   = metric.NewHistogram("1m1s")
	UpdatesSent    = metric.NewCounter("10s1s")
	LoopsPrevented = metric.NewCounter("10s1s")
	SPFRuns        = metric.NewCounter("10s1s")
)

func init() {
	expvar.Publish("routesim:RoundLatency (µs)", RoundLatency)
	expvar.Publish("routesim:Updates/s", UpdatesSent)
	expvar.Publish("routesim:LoopsPrevented/s", LoopsPrevented)
	expvar.Publish("routesim:SPFRuns/s", SPFRuns)
}

// Handler serves the metrics page and the expvar json
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}
