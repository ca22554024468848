package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// It intentionally exposes all internal counters as a single metric with an
// `event` label. This keeps the in-process metrics registry simple while
// still allowing scraping by Prometheus.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP flint_events_total Internal event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE flint_events_total counter")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "flint_events_total{event=\"%s\"} %d\n", escapeLabel(k), snap[k])
		}

		gauges := m.GaugeSnapshot()
		gaugeKeys := make([]string, 0, len(gauges))
		for k := range gauges {
			gaugeKeys = append(gaugeKeys, k)
		}
		sort.Strings(gaugeKeys)

		for _, k := range gaugeKeys {
			name := "flint_" + k
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
			_, _ = fmt.Fprintf(w, "%s %d\n", name, gauges[k])
		}
	})
}

func escapeLabel(s string) string {
	return strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(s)
}
