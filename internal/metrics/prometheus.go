package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetric = "hides_signal_events_total"
	gaugeMetric  = "hides_signal_state"
)

// GaugeFunc reports point-in-time values (current connections, queued
// seekers, rooms) at scrape time.
type GaugeFunc func() map[string]int64

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes the counters in m, plus any gauges, in
// Prometheus' text exposition format. Counters share one metric name with an
// `event` label; gauges share one with a `name` label.
func PrometheusHandler(m *Metrics, gauges GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		counters := m.Snapshot()
		_, _ = fmt.Fprintf(w, "# HELP %s Broker event counters.\n", eventsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetric)
		for _, k := range sortedKeys(counters) {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsMetric, labelEscaper.Replace(k), counters[k])
		}

		if gauges == nil {
			return
		}
		values := gauges()
		_, _ = fmt.Fprintf(w, "# HELP %s Current broker state.\n", gaugeMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", gaugeMetric)
		for _, k := range sortedKeys(values) {
			_, _ = fmt.Fprintf(w, "%s{name=\"%s\"} %d\n", gaugeMetric, labelEscaper.Replace(k), values[k])
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
