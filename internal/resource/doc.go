// Package resource provides the resource graph for Gray Logic Resgraph.
//
// The graph is a persistent tree of typed resources shared by many
// consumers. Every location in the tree, whether it holds a real resource,
// a reference to a resource elsewhere, or nothing yet, is addressed through
// one *Handle per path.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                              Graph                                    │
//	│                                                                       │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌──────────────────┐  │
//	│  │   Handle index   │   │    Node store    │   │    Listeners     │  │
//	│  │   (handle.go)    │──▶│   (graph.go)     │   │  (listener.go)   │  │
//	│  │                  │   │                  │   │                  │  │
//	│  │ • real/virtual   │   │ • ids, parents   │   │ • structure      │  │
//	│  │ • references     │   │ • payloads       │   │ • value          │  │
//	│  │ • decorators     │   │ • access claims  │   │ • type, observer │  │
//	│  └──────────────────┘   └──────────────────┘   └──────────────────┘  │
//	│                                  │                                    │
//	└──────────────────────────────────│────────────────────────────────────┘
//	                                   ▼
//	                 ┌──────────────────────────────────┐
//	                 │  Repository (write-through)      │
//	                 │  SQLite: resources table         │
//	                 │  Badger: resource/<id> keys      │
//	                 └──────────────────────────────────┘
//
// # Key Types
//
//   - Types / Type: the schema registry; types declare optional members and
//     an optional payload kind
//   - Graph: the store, overlay and listener registry
//   - Handle: a location in the tree; real, virtual or reference
//   - Repository: persistence of real resources
//   - Gate: permission check for administrative operations
//
// # Usage
//
//	types := resource.NewTypes()
//	sensorType, _ := types.Register(resource.TypeDef{
//	    Name:    "TemperatureSensor",
//	    Members: []resource.MemberDef{{Name: "reading", Type: resource.TypeFloat}},
//	})
//
//	graph := resource.NewGraph(types, resource.Options{Repository: repo})
//	if err := graph.Load(ctx); err != nil {
//	    return err
//	}
//
//	sensor, _ := graph.AddTopLevel("livingRoomSensor", sensorType, "installer")
//	reading, _ := sensor.Child("reading") // virtual until created
//	_ = reading.Create()
//	_ = reading.SetValue(21.5)
//	_ = sensor.Activate(true)
//
// # Thread Safety
//
// Graph and Handle are safe for concurrent use. A single read-write mutex
// protects the tree. Listener callbacks are invoked synchronously after the
// mutex is released, so they may call back into the graph.
package resource
