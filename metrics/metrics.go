// Package metrics publishes a read-only Prometheus-text snapshot of the
// manager's registry: one gauge/counter series per required metric name,
// scraped on demand rather than pushed, so publishing never touches
// engine state.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	vmetrics "github.com/VictoriaMetrics/metrics"

	"github.com/tunnelmesh/wgagentd/manager"
	"github.com/tunnelmesh/wgagentd/tunnel"
)

// networkState encodes a tunnel.State into the wire gauge value
// disconnected|connecting|connected|degraded|failed = 0|1|2|3|4.
func networkState(s tunnel.State) float64 {
	switch s {
	case tunnel.Uninitialized, tunnel.Stopped:
		return 0
	case tunnel.Starting:
		return 1
	case tunnel.Active:
		return 2
	case tunnel.Stopping:
		return 3
	case tunnel.Errored:
		return 4
	default:
		return 4
	}
}

// Publisher exposes the manager's tunnel snapshots as a Prometheus
// text-format handler. It owns its own vmetrics.Set so concurrent
// Publishers (e.g. in tests) never collide on the global default set.
type Publisher struct {
	mgr     *manager.Manager
	version string

	mu  sync.Mutex
	set *vmetrics.Set
}

// New builds a Publisher reading from mgr, reporting version in
// wg_agent_info.
func New(mgr *manager.Manager, version string) *Publisher {
	return &Publisher{mgr: mgr, version: version, set: vmetrics.NewSet()}
}

// Handler returns an http.Handler that renders the current snapshot in
// Prometheus text exposition format.
func (p *Publisher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set := p.refresh()
		set.WritePrometheus(w)
	})
}

// refresh rebuilds every gauge/counter from the manager's current
// registry snapshot. VictoriaMetrics/metrics gauges are created lazily
// and keyed by their full label string, so stale series for removed
// networks are pruned by resetting the set before repopulating it.
func (p *Publisher) refresh() *vmetrics.Set {
	fresh := vmetrics.NewSet()

	info := fmt.Sprintf(`wg_agent_info{version=%q}`, p.version)
	fresh.GetOrCreateGauge(info, nil).Set(1)

	for _, snap := range p.mgr.ListStatus() {
		stateName := fmt.Sprintf(`wg_network_state{network=%q}`, snap.Network)
		fresh.GetOrCreateGauge(stateName, nil).Set(networkState(snap.State))

		tx := fmt.Sprintf(`wg_bytes_transmitted{network=%q}`, snap.Network)
		fresh.GetOrCreateGauge(tx, nil).Set(float64(snap.TxBytes))

		rx := fmt.Sprintf(`wg_bytes_received{network=%q}`, snap.Network)
		fresh.GetOrCreateGauge(rx, nil).Set(float64(snap.RxBytes))

		total := fmt.Sprintf(`wg_peers_total{network=%q}`, snap.Network)
		fresh.GetOrCreateGauge(total, nil).Set(float64(snap.PeersTotal))

		active := fmt.Sprintf(`wg_peers_active{network=%q}`, snap.Network)
		fresh.GetOrCreateGauge(active, nil).Set(float64(snap.PeersActive))
	}

	p.mu.Lock()
	p.set = fresh
	p.mu.Unlock()
	return fresh
}
