package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Logger defines the logging interface used by the gate.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

type grant struct {
	role  Role
	scope *PathScope
}

// Gate is the resource graph's permission collaborator. It maps the actor
// of a gated operation to a role and checks the permission the operation
// needs. Actors are resolved from tokens seen by the API first, then from
// the configured consumers; anyone else is a viewer.
//
// Denials are written to the audit log when one is set.
//
// Thread Safety: All methods are safe for concurrent use.
type Gate struct {
	mu        sync.RWMutex
	consumers map[string]Role
	admitted  map[string]grant
	audit     audit.Repository
	logger    Logger
}

// NewGate creates a gate from a consumer-to-role map.
func NewGate(consumers map[string]string) (*Gate, error) {
	g := &Gate{
		consumers: make(map[string]Role, len(consumers)),
		admitted:  make(map[string]grant),
		logger:    noopLogger{},
	}
	for consumer, role := range consumers {
		r := Role(role)
		if !IsValidRole(r) {
			return nil, fmt.Errorf("consumer %s: unknown role %q", consumer, role)
		}
		g.consumers[consumer] = r
	}
	return g, nil
}

// SetAudit sets the repository denials are recorded in.
func (g *Gate) SetAudit(repo audit.Repository) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.audit = repo
}

// SetLogger sets the logger for the gate.
func (g *Gate) SetLogger(logger Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// Admit records the role and scope of a consumer authenticated by token.
// The latest token seen for a subject wins.
func (g *Gate) Admit(c *CustomClaims) {
	if c == nil || c.Subject == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admitted[c.Subject] = grant{role: c.Role, scope: c.PathScope()}
}

// RoleOf returns the role the gate assigns to actor.
func (g *Gate) RoleOf(actor string) Role {
	r, _ := g.resolve(actor)
	return r
}

func (g *Gate) resolve(actor string) (Role, *PathScope) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if gr, ok := g.admitted[actor]; ok {
		return gr.role, gr.scope
	}
	if r, ok := g.consumers[actor]; ok {
		return r, nil
	}
	return RoleViewer, nil
}

// Allow implements resource.Gate.
func (g *Gate) Allow(ctx context.Context, op resource.Operation, actor string, h *resource.Handle) error {
	role, scope := g.resolve(actor)
	perm := PermissionForOperation(op)

	var err error
	switch {
	case !HasPermission(role, perm):
		err = fmt.Errorf("%w: %s %s needs %s", ErrForbidden, role, actor, perm)
	case h != nil && !scope.CanAccess(h.Path()):
		err = fmt.Errorf("%w: %s", ErrOutOfScope, h.Path())
	}
	if err != nil {
		g.recordDenial(ctx, op, actor, h, err)
	}
	return err
}

func (g *Gate) recordDenial(ctx context.Context, op resource.Operation, actor string, h *resource.Handle, reason error) {
	g.mu.RLock()
	repo, logger := g.audit, g.logger
	g.mu.RUnlock()

	path := ""
	if h != nil {
		path = h.Path()
	}
	logger.Warn("operation denied", "operation", op, "actor", actor, "path", path, "reason", reason)
	if repo == nil {
		return
	}
	entry := &audit.Entry{
		Action:       audit.ActionDenied,
		ResourcePath: path,
		Actor:        actor,
		Source:       audit.SourceGate,
		Details: map[string]any{
			"operation": string(op),
			"reason":    reason.Error(),
		},
	}
	if err := repo.Create(ctx, entry); err != nil {
		logger.Warn("recording denial failed", "error", err)
	}
}
