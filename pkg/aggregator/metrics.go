package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels for sourceFailuresTotal.
const (
	opAll     = "all"
	opCompare = "compare"
	opMine    = "mine"
)

var sourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "registry_source_failures_total",
	Help: "Per-source failures dropped from aggregate results",
}, []string{"source", "operation"})
