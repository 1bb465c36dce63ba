package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	GroupMembers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "groupmon",
		Name:      "members_total",
		Help:      "Current number of processes in the group",
	})

	IsPrimary = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "groupmon",
		Name:      "is_primary",
		Help:      "1 if the local node currently holds the primary role, else 0",
	})

	RoleChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "groupmon",
		Name:      "role_changes_total",
		Help:      "Total number of observed promote/demote transitions",
	})

	ConfigChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupmon",
		Name:      "config_changes_total",
		Help:      "Total membership-change notifications processed",
	}, []string{"kind"})

	ConfigReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "groupmon",
		Name:      "config_reloads_total",
		Help:      "Total configuration reload attempts",
	}, []string{"result"})

	LoopIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "groupmon",
		Name:      "loop_iterations_total",
		Help:      "Total event loop iterations",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(GroupMembers)
		prometheus.MustRegister(IsPrimary)
		prometheus.MustRegister(RoleChanges)
		prometheus.MustRegister(ConfigChanges)
		prometheus.MustRegister(ConfigReloads)
		prometheus.MustRegister(LoopIterations)
	})
}
