package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/audit"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

type fieldView struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	Type            string `json:"type"`
	Existence       string `json:"existence"`
	Access          string `json:"access"`
	Priority        string `json:"priority,omitempty"`
	NotifyValue     bool   `json:"notify_value,omitempty"`
	NotifyStructure bool   `json:"notify_structure,omitempty"`
}

// descriptorView is the JSON shape of a pattern definition.
type descriptorView struct {
	Name          string      `json:"name"`
	Anchor        string      `json:"anchor"`
	RequireActive bool        `json:"require_active"`
	Fields        []fieldView `json:"fields"`
}

func newDescriptorView(d *pattern.Descriptor) descriptorView {
	v := descriptorView{
		Name:          d.Name(),
		Anchor:        d.AnchorType().Name(),
		RequireActive: d.RequireActive(),
	}
	for _, f := range d.Fields() {
		fv := fieldView{
			Name:            f.Name,
			Path:            f.PathString(),
			Type:            f.Type.Name(),
			Existence:       f.Existence.String(),
			Access:          f.Access.String(),
			NotifyValue:     f.NotifyValue,
			NotifyStructure: f.NotifyStructure,
		}
		if f.Priority != nil {
			fv.Priority = f.Priority.String()
		}
		v.Fields = append(v.Fields, fv)
	}
	return v
}

type fieldStateView struct {
	Path      string `json:"path,omitempty"`
	Exists    bool   `json:"exists"`
	Available bool   `json:"available"`
	Value     any    `json:"value,omitempty"`
}

// instanceView is the JSON shape of an evaluated pattern instance.
type instanceView struct {
	Pattern   string                    `json:"pattern"`
	Anchor    string                    `json:"anchor"`
	Satisfied bool                      `json:"satisfied"`
	Fields    map[string]fieldStateView `json:"fields"`
}

func newInstanceView(inst *pattern.Instance) instanceView {
	desc := inst.Descriptor()
	v := instanceView{
		Pattern:   desc.Name(),
		Anchor:    inst.Anchor().Path(),
		Satisfied: inst.Satisfied(),
		Fields:    make(map[string]fieldStateView),
	}
	for _, f := range desc.Fields() {
		st := fieldStateView{Available: inst.Available(f.Name)}
		if h := inst.Field(f.Name); h != nil {
			st.Path = h.Path()
			st.Exists = h.Exists()
			if t := h.Type(); t != nil && t.HasValue() && st.Exists {
				st.Value = h.Value()
			}
		}
		v.Fields[f.Name] = st
	}
	return v
}

// descriptor resolves the {name} URL parameter.
func (s *Server) descriptor(w http.ResponseWriter, r *http.Request) (*pattern.Descriptor, bool) {
	desc, err := s.patterns.Catalog().Get(chi.URLParam(r, "name"))
	if err != nil {
		writeGraphError(w, err)
		return nil, false
	}
	return desc, true
}

// handleListPatterns returns every registered pattern definition.
func (s *Server) handleListPatterns(w http.ResponseWriter, _ *http.Request) {
	catalog := s.patterns.Catalog()
	names := catalog.Names()
	views := make([]descriptorView, 0, len(names))
	for _, name := range names {
		if d, err := catalog.Get(name); err == nil {
			views = append(views, newDescriptorView(d))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": views,
		"count":    len(views),
	})
}

// handleGetPattern returns one pattern definition.
func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDescriptorView(desc))
}

// handleListInstances returns the satisfied instances of a pattern.
//
// Query parameters:
//   - priority: leave out instances a demand at this priority could not
//     write (default normal)
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	prio, err := resource.ParsePriority(r.URL.Query().Get("priority"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	instances, err := s.patterns.GetPatternInstances(desc.Name(), prio)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	scope := scopeOf(r)
	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		if scope.CanAccess(inst.Anchor().Path()) {
			views = append(views, newInstanceView(inst))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": views,
		"count":     len(views),
	})
}

// anchorOf resolves the anchor query or body path, writing an error
// response on failure.
func (s *Server) anchorOf(w http.ResponseWriter, r *http.Request, path string) (*resource.Handle, bool) {
	if path == "" {
		writeBadRequest(w, "anchor is required")
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

// handleEvaluate evaluates a pattern against the resource named by ?anchor=.
// The result is returned whether or not the instance is satisfied.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	anchor, ok := s.anchorOf(w, r, r.URL.Query().Get("anchor"))
	if !ok {
		return
	}
	inst, err := s.patterns.Evaluate(anchor, desc.Name())
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newInstanceView(inst))
}

type createInstanceRequest struct {
	// Name is the new anchor's name.
	Name string `json:"name"`

	// Parent, when set, makes the anchor a decorator below that resource
	// instead of a top-level resource.
	Parent string `json:"parent,omitempty"`

	// Activate activates the new instance through the permission gate.
	Activate bool `json:"activate,omitempty"`
}

// handleCreateInstance creates a resource shaped like the pattern.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	actor := actorOf(r)
	var (
		inst *pattern.Instance
		err  error
	)
	if req.Parent != "" {
		parent, ok := s.anchorOf(w, r, req.Parent)
		if !ok {
			return
		}
		inst, err = s.patterns.AddPatternDecorator(parent, req.Name, desc.Name(), actor)
	} else {
		if !inScope(w, r, req.Name) {
			return
		}
		inst, err = s.patterns.CreatePatternInstance(desc.Name(), req.Name, actor)
	}
	if err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(audit.ActionInstantiate, inst.Anchor().Path(), actor, map[string]any{"pattern": desc.Name()})

	if req.Activate {
		if err := s.patterns.ActivatePatternInstance(actor, inst); err != nil {
			writeGraphError(w, err)
			return
		}
		s.auditLog(audit.ActionActivate, inst.Anchor().Path(), actor, map[string]any{"pattern": desc.Name()})
		inst = pattern.Evaluate(desc, inst.Anchor())
	}
	writeJSON(w, http.StatusCreated, newInstanceView(inst))
}

type instanceActivationRequest struct {
	Anchor string `json:"anchor"`
	Active bool   `json:"active"`
}

// handleInstanceActivation activates or deactivates a pattern instance as
// one unit through the permission gate.
func (s *Server) handleInstanceActivation(w http.ResponseWriter, r *http.Request) {
	desc, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	var req instanceActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	anchor, ok := s.anchorOf(w, r, req.Anchor)
	if !ok {
		return
	}

	inst := pattern.Evaluate(desc, anchor)
	actor := actorOf(r)
	action := audit.ActionActivate
	var err error
	if req.Active {
		err = s.patterns.ActivatePatternInstance(actor, inst)
	} else {
		action = audit.ActionDeactivate
		err = s.patterns.DeactivatePatternInstance(actor, inst)
	}
	if err != nil {
		writeGraphError(w, err)
		return
	}
	s.auditLog(action, anchor.Path(), actor, map[string]any{"pattern": desc.Name()})
	writeJSON(w, http.StatusOK, newInstanceView(pattern.Evaluate(desc, anchor)))
}

// handleListDemands returns the registered pattern demands.
func (s *Server) handleListDemands(w http.ResponseWriter, _ *http.Request) {
	demands := s.patterns.Demands()
	writeJSON(w, http.StatusOK, map[string]any{
		"demands": demands,
		"count":   len(demands),
	})
}
