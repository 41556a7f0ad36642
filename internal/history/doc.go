// Package history records resource value changes in a time series store.
//
// # Usage
//
//	rec := history.NewRecorder(graph, influxClient)
//	rec.SetCounter(m)
//	rec.Start()
//	defer rec.Stop()
package history
