// Package schema loads resource types and pattern definitions from YAML.
//
// Definition files let operators add types and patterns without a rebuild.
// They are parsed strictly (unknown keys are errors), validated with
// go-playground/validator, and applied to a resource.Types registry and a
// pattern.Catalog.
//
//	definitions.yaml ──Parse──▶ File ──Apply──▶ resource.Types
//	                                     └────▶ pattern.Catalog
//	        ▲
//	        └── Watcher (fsnotify) reloads on write, create or rename
//
// # Reload Semantics
//
// Type registration is idempotent: a known name keeps its first definition.
// New patterns are registered; a pattern whose definition changed replaces
// the catalog entry, while demands already registered keep the definition
// they were created with.
//
// # Usage
//
//	files, err := schema.LoadFiles(cfg.Schema.Files)
//	if err != nil {
//	    return err
//	}
//	if _, err := schema.Apply(graph.Types(), catalog, files); err != nil {
//	    return err
//	}
//
//	w, _ := schema.NewWatcher(cfg.Schema.Files, graph.Types(), catalog)
//	go w.Run(ctx)
package schema
