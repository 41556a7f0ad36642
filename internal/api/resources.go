package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// resourceView is the JSON shape of a resource slot.
type resourceView struct {
	Path      string     `json:"path"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Exists    bool       `json:"exists"`
	Active    bool       `json:"active"`
	Decorator bool       `json:"decorator"`
	Reference bool       `json:"reference"`
	Target    string     `json:"target,omitempty"`
	Location  string     `json:"location,omitempty"`
	Owner     string     `json:"owner,omitempty"`
	Modified  *time.Time `json:"modified,omitempty"`
	Value     any        `json:"value,omitempty"`
	Children  []string   `json:"children,omitempty"`
}

func newResourceView(h *resource.Handle, withChildren bool) resourceView {
	v := resourceView{
		Path:      h.Path(),
		Name:      h.Name(),
		Exists:    h.Exists(),
		Active:    h.IsActive(),
		Decorator: h.IsDecorator(),
		Reference: h.IsReference(),
		Owner:     h.Owner(),
	}
	t := h.Type()
	if t != nil {
		v.Type = t.Name()
		if t.HasValue() {
			v.Value = h.Value()
		}
	}
	if target := h.Target(); target != nil {
		v.Target = target.Path()
	}
	if loc := h.Location(); loc != h.Path() {
		v.Location = loc
	}
	if m := h.Modified(); !m.IsZero() {
		v.Modified = &m
	}
	if withChildren {
		for _, c := range h.Children() {
			v.Children = append(v.Children, c.Name())
		}
	}
	return v
}

// typeView is the JSON shape of a registered type.
type typeView struct {
	Name    string            `json:"name"`
	Base    string            `json:"base,omitempty"`
	Value   string            `json:"value,omitempty"`
	Array   bool              `json:"array,omitempty"`
	Element string            `json:"element,omitempty"`
	Members map[string]string `json:"members,omitempty"`
}

func newTypeView(t *resource.Type) typeView {
	v := typeView{Name: t.Name(), Array: t.IsArray()}
	if b := t.Base(); b != nil {
		v.Base = b.Name()
	}
	if t.HasValue() {
		v.Value = string(t.ValueKind())
	}
	if e := t.Element(); e != nil {
		v.Element = e.Name()
	}
	for _, m := range t.Members() {
		if v.Members == nil {
			v.Members = make(map[string]string)
		}
		v.Members[m.Name] = m.Type.Name()
	}
	return v
}

// resourcePath returns the wildcard path of the request.
func resourcePath(r *http.Request) string {
	return strings.Trim(chi.URLParam(r, "*"), resource.PathSeparator)
}

// actorOf returns the token subject of the request.
func actorOf(r *http.Request) string {
	if c := auth.ClaimsFromContext(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}

// scopeOf returns the path scope of the request's token, nil when unrestricted.
func scopeOf(r *http.Request) *auth.PathScope {
	if c := auth.ClaimsFromContext(r.Context()); c != nil {
		return c.PathScope()
	}
	return nil
}

// inScope writes a 403 and returns false if path is outside the token scope.
func inScope(w http.ResponseWriter, r *http.Request, path string) bool {
	if scopeOf(r).CanAccess(path) {
		return true
	}
	writeForbidden(w, "path outside token scope: "+path)
	return false
}

// lookup resolves the request path, writing an error response on failure.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*resource.Handle, bool) {
	path := resourcePath(r)
	if path == "" {
		writeBadRequest(w, "resource path is required")
		return nil, false
	}
	if !inScope(w, r, path) {
		return nil, false
	}
	h, err := s.graph.Lookup(path)
	if err != nil {
		writeGraphError(w, err)
		return nil, false
	}
	return h, true
}

// handleListTopLevel returns all top-level resources.
func (s *Server) handleListTopLevel(w http.ResponseWriter, r *http.Request) {
	scope := scopeOf(r)
	tops := s.graph.TopLevels()
	views := make([]resourceView, 0, len(tops))
	for _, h := range tops {
		if scope.CanAccess(h.Path()) {
			views = append(views, newResourceView(h, false))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": views,
		"count":     len(views),
	})
}

type createTopLevelRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// handleCreateTopLevel adds a top-level resource owned by the caller.
func (s *Server) handleCreateTopLevel(w http.ResponseWriter, r *http.Request) {
	var req createTopLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !inScope(w, r, req.Name) {
		return
	}
	t, ok := s.graph.Types().Get(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown type: "+req.Type)
		return
	}
	actor := actorOf(r)
	h, err := s.graph.AddTopLevel(req.Name, t, actor)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(audit.ActionCreate, h.Path(), actor, map[string]any{"type": t.Name()})
	writeJSON(w, http.StatusCreated, newResourceView(h, false))
}

// handleGetResource returns one resource slot, real or virtual.
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newResourceView(h, true))
}

// putResourceRequest selects how a slot is materialized. With Reference
// set the slot becomes a reference; with Type set it is a decorator of
// that type; otherwise the declared member is created.
type putResourceRequest struct {
	Type       string `json:"type,omitempty"`
	Reference  string `json:"reference,omitempty"`
	Decorating bool   `json:"decorating,omitempty"`
}

// handlePutResource creates a sub-resource, decorator or reference.
func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	path := resourcePath(r)
	i := strings.LastIndex(path, resource.PathSeparator)
	if i <= 0 {
		writeBadRequest(w, "path must name a sub-resource; use POST /resources for top-level resources")
		return
	}
	parentPath, name := path[:i], path[i+1:]
	if !inScope(w, r, path) {
		return
	}

	var req putResourceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	parent, err := s.graph.Lookup(parentPath)
	if err != nil {
		writeGraphError(w, err)
		return
	}

	actor := actorOf(r)
	var h *resource.Handle
	details := map[string]any{}
	switch {
	case req.Reference != "":
		if !inScope(w, r, req.Reference) {
			return
		}
		target, err := s.graph.Lookup(req.Reference)
		if err != nil {
			writeGraphError(w, err)
			return
		}
		if h, err = parent.AddReferenceAs(name, target, req.Decorating, actor); err != nil {
			writeGraphError(w, err)
			return
		}
		details["reference"] = target.Path()
	case req.Type != "":
		t, ok := s.graph.Types().Get(req.Type)
		if !ok {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "unknown type: "+req.Type)
			return
		}
		if h, err = parent.Decorator(name, t); err != nil {
			writeGraphError(w, err)
			return
		}
		if err := h.CreateAs(actor); err != nil {
			writeGraphError(w, err)
			return
		}
		details["type"] = t.Name()
	default:
		if h, err = parent.Child(name); err != nil {
			writeGraphError(w, err)
			return
		}
		if err := h.CreateAs(actor); err != nil {
			writeGraphError(w, err)
			return
		}
	}

	s.auditLog(audit.ActionCreate, h.Path(), actor, details)
	writeJSON(w, http.StatusOK, newResourceView(h, false))
}

// handleDeleteResource deletes a resource and its subtree.
func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !h.Exists() {
		writeNotFound(w, "resource does not exist: "+h.Path())
		return
	}
	if err := h.Delete(); err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(audit.ActionDelete, h.Path(), actorOf(r), nil)
	w.WriteHeader(http.StatusNoContent)
}

// valueResponse is the JSON shape of a resource value.
type valueResponse struct {
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Value    any        `json:"value"`
	Modified *time.Time `json:"modified,omitempty"`
}

// handleGetValue returns the payload of a resource. Virtual slots report
// their type's default value.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	t := h.Type()
	if t == nil || !t.HasValue() {
		writeBadRequest(w, "resource carries no value: "+h.Path())
		return
	}
	resp := valueResponse{Path: h.Path(), Type: t.Name(), Value: h.Value()}
	if m := h.Modified(); !m.IsZero() {
		resp.Modified = &m
	}
	writeJSON(w, http.StatusOK, resp)
}

type setValueRequest struct {
	Value    json.RawMessage `json:"value"`
	Priority string          `json:"priority,omitempty"`
}

// handleSetValue writes a value on behalf of the caller at the requested priority.
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	prio, err := resource.ParsePriority(req.Priority)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !h.Exists() {
		writeNotFound(w, "resource does not exist: "+h.Path())
		return
	}
	t := h.Type()
	if t == nil || !t.HasValue() {
		writeBadRequest(w, "resource carries no value: "+h.Path())
		return
	}
	v, err := resource.DecodeValue(t, req.Value)
	if err != nil {
		writeGraphError(w, err)
		return
	}

	actor := actorOf(r)
	if err := h.SetValueAs(resource.Writer{Owner: actor, Priority: prio}, v); err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(audit.ActionSetValue, h.Path(), actor, map[string]any{
		"value":    h.Value(),
		"priority": prio.String(),
	})
	writeJSON(w, http.StatusOK, valueResponse{Path: h.Path(), Type: t.Name(), Value: h.Value()})
}

type activationRequest struct {
	Active    bool `json:"active"`
	Recursive bool `json:"recursive"`
}

// handleSetActivation activates or deactivates one resource.
func (s *Server) handleSetActivation(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req activationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var err error
	action := audit.ActionActivate
	if req.Active {
		err = h.Activate(req.Recursive)
	} else {
		action = audit.ActionDeactivate
		err = h.Deactivate(req.Recursive)
	}
	if err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(action, h.Path(), actorOf(r), map[string]any{"recursive": req.Recursive})
	writeJSON(w, http.StatusOK, newResourceView(h, false))
}

type bulkActivationRequest struct {
	Paths  []string `json:"paths"`
	Active bool     `json:"active"`
}

// handleBulkActivation activates or deactivates a set of resources as one
// unit. The permission gate decides whether the caller may do so.
func (s *Server) handleBulkActivation(w http.ResponseWriter, r *http.Request) {
	var req bulkActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 {
		writeBadRequest(w, "paths must not be empty")
		return
	}

	handles := make([]*resource.Handle, 0, len(req.Paths))
	for _, p := range req.Paths {
		if !inScope(w, r, p) {
			return
		}
		h, err := s.graph.Lookup(p)
		if err != nil {
			writeGraphError(w, err)
			return
		}
		handles = append(handles, h)
	}

	actor := actorOf(r)
	var err error
	action := audit.ActionActivate
	if req.Active {
		err = s.graph.ActivateAll(actor, handles)
	} else {
		action = audit.ActionDeactivate
		err = s.graph.DeactivateAll(actor, handles)
	}
	if err != nil {
		writeGraphError(w, err)
		return
	}
	for _, h := range handles {
		s.auditLog(action, h.Path(), actor, map[string]any{"bulk": true})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active": req.Active,
		"count":  len(handles),
	})
}

type accessRequest struct {
	Mode     string `json:"mode"`
	Priority string `json:"priority,omitempty"`
}

// accessResponse reports the exclusive claim in force on a resource.
type accessResponse struct {
	Path     string `json:"path"`
	Granted  string `json:"granted,omitempty"`
	Holder   string `json:"holder,omitempty"`
	Priority string `json:"priority,omitempty"`
}

func accessState(h *resource.Handle) accessResponse {
	resp := accessResponse{Path: h.Path()}
	if owner, prio, ok := h.AccessHolder(); ok {
		resp.Holder = owner
		resp.Priority = prio.String()
	}
	return resp
}

// handleGetAccess returns the exclusive claim holder of a resource.
func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, accessState(h))
}

// handleRequestAccess records a write-access claim by the caller.
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := resource.ParseAccessMode(req.Mode)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	prio, err := resource.ParsePriority(req.Priority)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	granted, err := h.RequestAccess(actorOf(r), mode, prio)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	resp := accessState(h)
	resp.Granted = granted.String()
	writeJSON(w, http.StatusOK, resp)
}

// handleReleaseAccess drops the caller's claim.
func (s *Server) handleReleaseAccess(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookup(w, r)
	if !ok {
		return
	}
	h.ReleaseAccess(actorOf(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleListTypes returns the registered types.
func (s *Server) handleListTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.graph.Types()
	names := types.Names()
	views := make([]typeView, 0, len(names))
	for _, name := range names {
		if t, ok := types.Get(name); ok {
			views = append(views, newTypeView(t))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types": views,
		"count": len(views),
	})
}

// handleListResourcesOfType returns the real resources assignable to a type.
func (s *Server) handleListResourcesOfType(w http.ResponseWriter, r *http.Request) {
	t, ok := s.graph.Types().Get(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "unknown type: "+chi.URLParam(r, "name"))
		return
	}
	scope := scopeOf(r)
	handles := s.graph.ResourcesOfType(t)
	views := make([]resourceView, 0, len(handles))
	for _, h := range handles {
		if scope.CanAccess(h.Path()) {
			views = append(views, newResourceView(h, false))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": views,
		"count":     len(views),
	})
}

// handleGraphStats returns graph counters.
func (s *Server) handleGraphStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.Stats())
}
