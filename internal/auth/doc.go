// Package auth provides authentication and authorisation for the resource
// graph service.
//
// It implements a 4-tier role model (viewer → operator → admin → owner) with:
//   - HS256 JWT access tokens carrying a role and an optional path scope
//   - Static role-permission mapping (compile-time, no database lookup)
//   - A permission gate plugged into the graph for bulk activation and
//     cross-owner decoration, with denials written to the audit log
//
// Path scoping uses a "zero restriction unless granted" model: a token
// without a scope may touch the whole graph, a scoped token only the
// listed subtrees.
package auth
