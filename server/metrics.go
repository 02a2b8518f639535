package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-Server Prometheus registry (§B "Metrics"). A fresh
// Registry per Server, rather than prometheus.DefaultRegisterer, keeps
// multiple Servers in one process (as server_test.go builds) from panicking
// on duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	cacheBlocks *prometheus.GaugeVec
	bandwidth   *prometheus.GaugeVec
	cpuCycles   *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		cacheBlocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ufssched_app_cache_blocks",
			Help: "Blocks of cache currently allocated to an app, summed across its tenants.",
		}, []string{"aid"}),
		bandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ufssched_app_bandwidth_blocks_per_sec",
			Help: "Bandwidth currently allocated to an app, summed across its tenants.",
		}, []string{"aid"}),
		cpuCycles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ufssched_app_cpu_cycles_per_epoch",
			Help: "CPU cycles per epoch currently allocated to an app, summed across its tenants.",
		}, []string{"aid"}),
	}
	m.Registry.MustRegister(m.cacheBlocks, m.bandwidth, m.cpuCycles)
	return m
}

// refresh pulls each app's current resource snapshot out of its
// AppResrcView and republishes it as gauges.
func (s *Server) refreshMetrics() {
	for aid, app := range s.apps {
		curr := app.View.CurrResrc()
		label := prometheus.Labels{"aid": strconv.FormatUint(uint64(aid), 10)}
		s.metrics.cacheBlocks.With(label).Set(float64(curr.CacheSize))
		s.metrics.bandwidth.With(label).Set(float64(curr.Bandwidth))
		s.metrics.cpuCycles.With(label).Set(float64(curr.CpuCycles))
	}
}

// runMetricsLoop republishes gauges every interval until stop fires.
func (s *Server) runMetricsLoop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.refreshMetrics()
		}
	}
}
