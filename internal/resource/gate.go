package resource

import (
	"context"
	"fmt"
)

// Operation names an administrative operation subject to the permission gate.
type Operation string

// Gated operations.
const (
	OpBulkActivate   Operation = "bulk_activate"
	OpBulkDeactivate Operation = "bulk_deactivate"
	OpDecorate       Operation = "decorate"
)

// Gate is the permission collaborator. Allow returns nil to permit actor to
// perform op on h, or an error describing the veto.
type Gate interface {
	Allow(ctx context.Context, op Operation, actor string, h *Handle) error
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, op Operation, actor string, h *Handle) error

// Allow calls f.
func (f GateFunc) Allow(ctx context.Context, op Operation, actor string, h *Handle) error {
	return f(ctx, op, actor, h)
}

// check consults the gate outside the graph lock.
func (g *Graph) check(op Operation, actor string, h *Handle) error {
	g.mu.RLock()
	gate := g.gate
	g.mu.RUnlock()
	if gate == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
	defer cancel()
	if err := gate.Allow(ctx, op, actor, h); err != nil {
		return opError(string(op), h.path, fmt.Errorf("%w: %w", ErrAccessDenied, err))
	}
	return nil
}
