package resource

import "fmt"

// AccessMode is the kind of write access a consumer holds on a resource.
type AccessMode int

// Access modes, weakest first.
const (
	AccessReadOnly AccessMode = iota
	AccessShared
	AccessExclusive
)

// String returns the lower-case mode name.
func (m AccessMode) String() string {
	switch m {
	case AccessShared:
		return "shared"
	case AccessExclusive:
		return "exclusive"
	default:
		return "read_only"
	}
}

// ParseAccessMode parses the names produced by AccessMode.String.
func ParseAccessMode(s string) (AccessMode, error) {
	switch s {
	case "read_only", "":
		return AccessReadOnly, nil
	case "shared":
		return AccessShared, nil
	case "exclusive":
		return AccessExclusive, nil
	}
	return AccessReadOnly, fmt.Errorf("unknown access mode %q", s)
}

// Priority orders competing access claims.
type Priority int

// Priorities, lowest first.
const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
)

var priorityNames = []string{"lowest", "low", "normal", "high", "highest"}

// String returns the lower-case priority name.
func (p Priority) String() string {
	if p < PriorityLowest || p > PriorityHighest {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses the names produced by Priority.String.
// An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return PriorityLowest, fmt.Errorf("unknown priority %q", s)
}

// Writer identifies who writes a value and with which priority.
// The zero Writer is an anonymous writer at PriorityLowest.
type Writer struct {
	Owner    string
	Priority Priority
}

type claim struct {
	owner    string
	mode     AccessMode
	priority Priority
	seq      uint64
}

// holder returns the exclusive claim currently in force: the highest
// priority, and among equal priorities the oldest claim.
func (n *node) holder() *claim {
	var best *claim
	for i := range n.claims {
		c := &n.claims[i]
		if c.mode != AccessExclusive {
			continue
		}
		if best == nil || c.priority > best.priority || (c.priority == best.priority && c.seq < best.seq) {
			best = c
		}
	}
	return best
}

// canWrite reports whether w may write the node's payload.
func (n *node) canWrite(w Writer) bool {
	h := n.holder()
	return h == nil || h.owner == w.Owner || h.priority < w.Priority
}

// RequestAccess records a claim by owner on the resource (the target, for
// references) and returns the mode actually granted. An exclusive claim
// that loses arbitration is downgraded to read-only; it is upgraded again
// automatically once the competing claim is released.
func (h *Handle) RequestAccess(owner string, mode AccessMode, prio Priority) (AccessMode, error) {
	g := h.g
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.resolveLocked(h)
	if n == nil {
		return AccessReadOnly, opError("request access", h.path, ErrNotMaterialized)
	}

	found := false
	for i := range n.claims {
		c := &n.claims[i]
		if c.owner != owner {
			continue
		}
		if c.mode != mode || c.priority != prio {
			n.claimSeq++
			c.mode, c.priority, c.seq = mode, prio, n.claimSeq
		}
		found = true
		break
	}
	if !found {
		n.claimSeq++
		n.claims = append(n.claims, claim{owner: owner, mode: mode, priority: prio, seq: n.claimSeq})
	}
	return grantedLocked(n, owner), nil
}

func grantedLocked(n *node, owner string) AccessMode {
	var own *claim
	for i := range n.claims {
		if n.claims[i].owner == owner {
			own = &n.claims[i]
		}
	}
	if own == nil || own.mode == AccessReadOnly {
		return AccessReadOnly
	}
	holder := n.holder()
	switch {
	case holder == nil:
		return own.mode
	case holder.owner == owner:
		return AccessExclusive
	default:
		return AccessReadOnly
	}
}

// AccessGranted returns the mode currently granted to owner.
func (h *Handle) AccessGranted(owner string) AccessMode {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	n := h.g.resolveLocked(h)
	if n == nil {
		return AccessReadOnly
	}
	return grantedLocked(n, owner)
}

// ReleaseAccess drops owner's claim. Releasing without a claim is a no-op.
func (h *Handle) ReleaseAccess(owner string) {
	g := h.g
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.resolveLocked(h)
	if n == nil {
		return
	}
	for i := range n.claims {
		if n.claims[i].owner == owner {
			n.claims = append(n.claims[:i:i], n.claims[i+1:]...)
			return
		}
	}
}

// AccessHolder returns the owner and priority of the exclusive claim in force.
func (h *Handle) AccessHolder() (owner string, prio Priority, ok bool) {
	h.g.mu.RLock()
	defer h.g.mu.RUnlock()
	n := h.g.resolveLocked(h)
	if n == nil {
		return "", PriorityLowest, false
	}
	c := n.holder()
	if c == nil {
		return "", PriorityLowest, false
	}
	return c.owner, c.priority, true
}
