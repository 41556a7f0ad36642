// Package pattern matches declarative resource patterns against the graph
// and tells registered listeners when matching instances come and go.
//
// # Architecture
//
//	┌──────────────┐  Define/Build   ┌────────────┐
//	│   Builder    │ ──────────────► │ Descriptor │──┐
//	└──────────────┘                 └────────────┘  │ Register
//	                                                 ▼
//	┌──────────────┐   AddPatternDemand        ┌───────────┐
//	│   Listener   │ ◄───────────────────────  │  Manager  │──► Catalog
//	└──────────────┘   available/unavailable   └─────┬─────┘
//	                   /changed                      │ one demand per
//	                                                 │ (pattern, listener)
//	                                                 ▼
//	                       WatchType + per-handle ┌──────────┐
//	   resource.Graph ◄─────────────────────────  │  demand  │── Evaluate
//	                       listeners              └──────────┘
//
// A Descriptor names an anchor type and a list of fields, each a relative
// path from the anchor with a type, an existence requirement, optional
// access needs and optional change subscriptions. Evaluate resolves the
// fields against one anchor and reports whether the pattern is satisfied.
//
// # Key Types
//
//   - Descriptor: immutable pattern definition, built with Define
//   - Instance: evaluation snapshot for one anchor
//   - Manager: registry of demands, instance creation and activation
//   - Listener: receives PatternAvailable, PatternUnavailable and PatternChanged
//
// # Usage
//
//	desc := pattern.Define("thermostat", thermostatType).
//	    Field("reading", "temperatureSensor/reading", floatType).NotifyValue().
//	    Field("control", "valve/setting/stateControl", floatType).Optional().
//	    AccessMode(resource.AccessExclusive).
//	    MustBuild()
//
//	catalog := pattern.NewCatalog()
//	catalog.Register(desc)
//	mgr := pattern.NewManager(graph, catalog)
//	mgr.SetLogger(logger)
//	err := mgr.AddPatternDemand("thermostat", controller, resource.PriorityNormal)
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. Callbacks for one demand
// are delivered one at a time and in the order the underlying changes were
// observed. Listeners may mutate the graph or unregister themselves from
// inside a callback.
package pattern
