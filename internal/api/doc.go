// Package api implements the HTTP REST API and WebSocket server for the
// resource graph.
//
// This package provides:
//   - REST endpoints for resources, values, activation and access requests
//   - Pattern endpoints for definitions, instances, evaluation and demands
//   - WebSocket hub broadcasting graph events and pattern instance lifecycles
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Paths
//
// Resource paths appear verbatim after the route prefix, so the value of
// "house/kitchen/temperature" is read with GET /api/v1/values/house/kitchen/temperature.
//
// # Security
//
// Every protected route checks the token role against a permission.
// Operations the graph itself gates (bulk activation, decoration) are
// additionally judged by the permission gate, which sees the token's role
// and path scope through Gate.Admit. Tokens with a path scope only see
// resources and instances below their prefixes.
//
// WebSocket connections use single-use tickets to prevent token leakage in URLs.
//
// # Graceful Degradation
//
// The server operates without MQTT, the audit repository or the schema
// watcher; the endpoints depending on them report 503 instead.
package api
