// Package logging provides the service logger, a thin wrapper over log/slog.
//
// Every entry carries service and version fields. Domain packages never
// import this package; they declare their own Logger interface and receive
// a component logger at start-up:
//
//	log := logging.New(cfg.Logging, version)
//	graph.SetLogger(log.Component("resource"))
//	patterns.SetLogger(log.Component("pattern"))
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Never log token values or the JWT secret. Log the consumer subject instead.
package logging
