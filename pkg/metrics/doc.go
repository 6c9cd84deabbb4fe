// Package metrics exports sync health as metrics.
//
// Components receive a Recorder by injection and default to NoopRecorder,
// so metrics never need nil checks at call sites. PrometheusRecorder is the
// real implementation; HTTPHandler serves its registry.
//
//	reg := prometheus.NewRegistry()
//	deps.Metrics = metrics.NewPrometheusRecorder(reg)
//	http.Handle("/metrics", metrics.HTTPHandler(reg))
//
// All series live under the "gigsync" namespace.
package metrics
