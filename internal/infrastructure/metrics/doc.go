// Package metrics exposes Prometheus metrics for the resource graph service.
//
// Counters cover pattern callbacks, channel messages, history points and
// API requests. Graph and demand sizes are gauges read at scrape time.
//
// Usage:
//
//	m := metrics.New()
//	manager.SetRecorder(m)
//	m.ObserveGraph(graph.Stats)
//	m.ObserveDemands(manager.DemandCount)
//	router.Handle(cfg.Metrics.Path, m.Handler())
package metrics
