// Package config loads the resgraph configuration.
//
// Values come from three layers, later ones winning:
//
//	defaults      sqlite store, API on :8080, 32 reference hops
//	config.yaml   site, database, graph, schema, mqtt, channels, api, ...
//	environment   GRAYLOGIC_* overrides (secrets, broker, database path)
//
// Validate collects every problem into one error so a broken file is
// reported in a single pass.
//
// Secrets (security.jwt.secret, mqtt.auth.password, influxdb.token) belong
// in the environment, not in a committed file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	graph := resource.NewGraph(types, resource.Options{
//	    MaxReferenceDepth: cfg.Graph.MaxReferenceDepth,
//	    PersistTimeout:    cfg.GetPersistTimeout(),
//	})
package config
