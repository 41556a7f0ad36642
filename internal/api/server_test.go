package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testServer creates a Server over an in-memory graph with a heating schema
// and a permission gate.
func testServer(t *testing.T) *Server {
	t.Helper()

	types := resource.NewTypes()
	defs := []resource.TypeDef{
		{Name: "TemperatureSensor", Members: []resource.MemberDef{{Name: "reading", Type: resource.TypeFloat}}},
		{Name: "Thermostat", Members: []resource.MemberDef{
			{Name: "temperatureSensor", Type: "TemperatureSensor"},
			{Name: "setpoint", Type: resource.TypeFloat},
		}},
	}
	for _, def := range defs {
		if _, err := types.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	g := resource.NewGraph(types, resource.Options{})

	gate, err := auth.NewGate(nil)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	g.SetGate(gate)

	catalog := pattern.NewCatalog()
	desc, err := pattern.Define("heating", types.MustGet("Thermostat")).
		Field("reading", "temperatureSensor/reading", types.MustGet(resource.TypeFloat)).NotifyValue().
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := catalog.Register(desc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	patterns := pattern.NewManager(g, catalog)
	t.Cleanup(patterns.Close)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:   log,
		Graph:    g,
		Patterns: patterns,
		Gate:     gate,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func token(t *testing.T, subject string, role auth.Role, scope ...string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(subject, role, scope, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// do performs a request against the router and decodes a JSON object response.
func do(t *testing.T, srv *Server, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func mustDo(t *testing.T, srv *Server, method, path, tok, body string, want int) map[string]any {
	t.Helper()
	code, out := do(t, srv, method, path, tok, body)
	if code != want {
		t.Fatalf("%s %s status = %d, want %d (body %v)", method, path, code, want, out)
	}
	return out
}

// createThermostat creates a top-level thermostat with an existing reading.
func createThermostat(t *testing.T, srv *Server, admin, name string) {
	t.Helper()
	mustDo(t, srv, http.MethodPost, "/api/v1/resources", admin,
		fmt.Sprintf(`{"name":%q,"type":"Thermostat"}`, name), http.StatusCreated)
	mustDo(t, srv, http.MethodPut, "/api/v1/resources/"+name+"/temperatureSensor/reading", admin, "", http.StatusOK)
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	out := mustDo(t, srv, http.MethodGet, "/api/v1/health", "", "", http.StatusOK)
	if out["status"] != "ok" {
		t.Errorf("status = %v, want ok", out["status"])
	}
	if out["version"] != "test" {
		t.Errorf("version = %v, want test", out["version"])
	}
}

func TestAuth_MissingToken(t *testing.T) {
	srv := testServer(t)
	code, _ := do(t, srv, http.MethodGet, "/api/v1/resources", "", "")
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv := testServer(t)
	other, err := auth.GenerateAccessToken("mallory", auth.RoleOwner, nil, "another-secret-that-is-long-enough-too", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	code, _ := do(t, srv, http.MethodGet, "/api/v1/resources", other, "")
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestWhoAmI(t *testing.T) {
	srv := testServer(t)
	out := mustDo(t, srv, http.MethodGet, "/api/v1/auth/me", token(t, "panel", auth.RoleViewer, "hall"), "", http.StatusOK)
	if out["subject"] != "panel" || out["role"] != "viewer" {
		t.Errorf("me = %v, want panel/viewer", out)
	}
	scope, _ := out["scope"].([]any)
	if len(scope) != 1 || scope[0] != "hall" {
		t.Errorf("scope = %v, want [hall]", out["scope"])
	}
}

func TestCreateResourceAndSetValue(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	operator := token(t, "controller", auth.RoleOperator)

	createThermostat(t, srv, admin, "hall")

	out := mustDo(t, srv, http.MethodGet, "/api/v1/resources/hall", operator, "", http.StatusOK)
	if out["type"] != "Thermostat" || out["exists"] != true {
		t.Errorf("resource = %v, want existing Thermostat", out)
	}
	if out["owner"] != "installer" {
		t.Errorf("owner = %v, want installer", out["owner"])
	}

	mustDo(t, srv, http.MethodPut, "/api/v1/values/hall/temperatureSensor/reading", operator,
		`{"value":21.5}`, http.StatusOK)

	out = mustDo(t, srv, http.MethodGet, "/api/v1/values/hall/temperatureSensor/reading", operator, "", http.StatusOK)
	if out["value"] != 21.5 {
		t.Errorf("value = %v, want 21.5", out["value"])
	}
}

func TestSetValue_ViewerForbidden(t *testing.T) {
	srv := testServer(t)
	createThermostat(t, srv, token(t, "installer", auth.RoleAdmin), "hall")

	code, _ := do(t, srv, http.MethodPut, "/api/v1/values/hall/temperatureSensor/reading",
		token(t, "panel", auth.RoleViewer), `{"value":1}`)
	if code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", code)
	}
}

func TestSetValue_Virtual(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	mustDo(t, srv, http.MethodPost, "/api/v1/resources", admin, `{"name":"hall","type":"Thermostat"}`, http.StatusCreated)

	code, _ := do(t, srv, http.MethodPut, "/api/v1/values/hall/setpoint", admin, `{"value":20}`)
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestSetValue_TypeMismatch(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")

	code, out := do(t, srv, http.MethodPut, "/api/v1/values/hall/temperatureSensor/reading", admin, `{"value":"warm"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (body %v)", code, out)
	}
}

func TestGetResource_UnknownTopLevel(t *testing.T) {
	srv := testServer(t)
	code, _ := do(t, srv, http.MethodGet, "/api/v1/resources/nowhere", token(t, "panel", auth.RoleViewer), "")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestCreateTopLevel_Duplicate(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	mustDo(t, srv, http.MethodPost, "/api/v1/resources", admin, `{"name":"hall","type":"Thermostat"}`, http.StatusCreated)

	code, _ := do(t, srv, http.MethodPost, "/api/v1/resources", admin, `{"name":"hall","type":"Thermostat"}`)
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
}

func TestDeleteResource(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")

	mustDo(t, srv, http.MethodDelete, "/api/v1/resources/hall/temperatureSensor", admin, "", http.StatusNoContent)

	out := mustDo(t, srv, http.MethodGet, "/api/v1/resources/hall/temperatureSensor/reading", admin, "", http.StatusOK)
	if out["exists"] != false {
		t.Errorf("reading exists = %v after deleting its parent", out["exists"])
	}
	code, _ := do(t, srv, http.MethodDelete, "/api/v1/resources/hall/temperatureSensor", admin, "")
	if code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", code)
	}
}

func TestBulkActivation_GateDecides(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")

	body := `{"paths":["hall","hall/temperatureSensor/reading"],"active":true}`
	code, _ := do(t, srv, http.MethodPost, "/api/v1/activate", token(t, "controller", auth.RoleOperator), body)
	if code != http.StatusForbidden {
		t.Fatalf("operator bulk activation status = %d, want 403", code)
	}
	h, err := srv.graph.Lookup("hall")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if h.IsActive() {
		t.Fatal("hall active after denied bulk activation")
	}

	out := mustDo(t, srv, http.MethodPost, "/api/v1/activate", admin, body, http.StatusOK)
	if out["count"] != float64(2) {
		t.Errorf("count = %v, want 2", out["count"])
	}
	if !h.IsActive() {
		t.Error("hall not active after admin bulk activation")
	}
}

func TestAccess_RequestAndRelease(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")
	path := "/api/v1/access/hall/temperatureSensor/reading"

	out := mustDo(t, srv, http.MethodPost, path, admin, `{"mode":"exclusive","priority":"high"}`, http.StatusOK)
	if out["granted"] != "exclusive" || out["holder"] != "installer" {
		t.Errorf("access = %v, want exclusive held by installer", out)
	}

	code, _ := do(t, srv, http.MethodPut, "/api/v1/values/hall/temperatureSensor/reading",
		token(t, "controller", auth.RoleOperator), `{"value":3}`)
	if code != http.StatusConflict {
		t.Errorf("write by non-holder status = %d, want 409", code)
	}

	mustDo(t, srv, http.MethodDelete, path, admin, "", http.StatusNoContent)
	out = mustDo(t, srv, http.MethodGet, path, admin, "", http.StatusOK)
	if _, held := out["holder"]; held {
		t.Errorf("holder = %v after release", out["holder"])
	}
}

func TestScope_FiltersAndRejects(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")
	createThermostat(t, srv, admin, "attic")

	scoped := token(t, "panel", auth.RoleViewer, "hall")
	out := mustDo(t, srv, http.MethodGet, "/api/v1/resources", scoped, "", http.StatusOK)
	if out["count"] != float64(1) {
		t.Errorf("visible top levels = %v, want 1", out["count"])
	}

	code, _ := do(t, srv, http.MethodGet, "/api/v1/resources/attic", scoped, "")
	if code != http.StatusForbidden {
		t.Errorf("out-of-scope status = %d, want 403", code)
	}
}

func TestTypesAndStats(t *testing.T) {
	srv := testServer(t)
	viewer := token(t, "panel", auth.RoleViewer)
	createThermostat(t, srv, token(t, "installer", auth.RoleAdmin), "hall")

	out := mustDo(t, srv, http.MethodGet, "/api/v1/types/Thermostat/resources", viewer, "", http.StatusOK)
	if out["count"] != float64(1) {
		t.Errorf("thermostats = %v, want 1", out["count"])
	}
	code, _ := do(t, srv, http.MethodGet, "/api/v1/types/Boiler/resources", viewer, "")
	if code != http.StatusNotFound {
		t.Errorf("unknown type status = %d, want 404", code)
	}

	out = mustDo(t, srv, http.MethodGet, "/api/v1/stats", viewer, "", http.StatusOK)
	if out["top_level"] != float64(1) {
		t.Errorf("top_level = %v, want 1", out["top_level"])
	}
}

func TestPatterns_ListAndInstantiate(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	viewer := token(t, "panel", auth.RoleViewer)

	out := mustDo(t, srv, http.MethodGet, "/api/v1/patterns", viewer, "", http.StatusOK)
	if out["count"] != float64(1) {
		t.Fatalf("patterns = %v, want 1", out["count"])
	}

	code, _ := do(t, srv, http.MethodPost, "/api/v1/patterns/heating/instances", viewer, `{"name":"kitchen"}`)
	if code != http.StatusForbidden {
		t.Errorf("viewer instantiate status = %d, want 403", code)
	}

	out = mustDo(t, srv, http.MethodPost, "/api/v1/patterns/heating/instances", admin,
		`{"name":"kitchen","activate":true}`, http.StatusCreated)
	if out["satisfied"] != true {
		t.Errorf("satisfied = %v, want true", out["satisfied"])
	}

	out = mustDo(t, srv, http.MethodGet, "/api/v1/patterns/heating/instances", viewer, "", http.StatusOK)
	if out["count"] != float64(1) {
		t.Errorf("instances = %v, want 1", out["count"])
	}

	out = mustDo(t, srv, http.MethodGet, "/api/v1/patterns/heating/evaluate?anchor=kitchen", viewer, "", http.StatusOK)
	fields, _ := out["fields"].(map[string]any)
	reading, _ := fields["reading"].(map[string]any)
	if reading["path"] != "kitchen/temperatureSensor/reading" {
		t.Errorf("reading path = %v", reading["path"])
	}
}

func TestPatterns_InstanceActivation(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	mustDo(t, srv, http.MethodPost, "/api/v1/patterns/heating/instances", admin, `{"name":"kitchen"}`, http.StatusCreated)

	code, _ := do(t, srv, http.MethodPost, "/api/v1/patterns/heating/activation",
		token(t, "controller", auth.RoleOperator), `{"anchor":"kitchen","active":true}`)
	if code != http.StatusForbidden {
		t.Errorf("operator activation status = %d, want 403", code)
	}

	out := mustDo(t, srv, http.MethodPost, "/api/v1/patterns/heating/activation", admin,
		`{"anchor":"kitchen","active":true}`, http.StatusOK)
	if out["satisfied"] != true {
		t.Errorf("satisfied = %v, want true", out["satisfied"])
	}
}

func TestPatterns_Unknown(t *testing.T) {
	srv := testServer(t)
	code, _ := do(t, srv, http.MethodGet, "/api/v1/patterns/boiler", token(t, "panel", auth.RoleViewer), "")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestSchemaReload_Unconfigured(t *testing.T) {
	srv := testServer(t)
	code, _ := do(t, srv, http.MethodPost, "/api/v1/schema/reload", token(t, "root", auth.RoleOwner), "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	code, _ = do(t, srv, http.MethodPost, "/api/v1/schema/reload", token(t, "installer", auth.RoleAdmin), "")
	if code != http.StatusForbidden {
		t.Errorf("admin status = %d, want 403", code)
	}
}

func TestWriteGraphError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup x: %w", resource.ErrNotFound), http.StatusNotFound},
		{pattern.ErrUnknownPattern, http.StatusNotFound},
		{resource.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("%w: %w", resource.ErrAccessDenied, auth.ErrForbidden), http.StatusForbidden},
		{resource.ErrTypeMismatch, http.StatusBadRequest},
		{pattern.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeGraphError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("writeGraphError(%v) = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv := testServer(t)
	out := mustDo(t, srv, http.MethodPost, "/api/v1/auth/ws-ticket", token(t, "panel", auth.RoleViewer), "", http.StatusOK)
	ticket, _ := out["ticket"].(string)
	if ticket == "" {
		t.Fatal("empty ticket")
	}
	if _, ok := srv.tickets.redeem(ticket); !ok {
		t.Fatal("first redeem failed")
	}
	if _, ok := srv.tickets.redeem(ticket); ok {
		t.Error("second redeem succeeded")
	}
}

// dialWebSocket starts the hub and an HTTP server and connects a client
// authenticated as tok.
func dialWebSocket(t *testing.T, srv *Server, tok string) *websocket.Conn {
	t.Helper()

	before := srv.graph.Stats().Listeners
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.hub.Run(ctx, srv.graph)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for srv.graph.Stats().Listeners <= before {
		if time.Now().After(deadline) {
			t.Fatal("hub did not attach to the graph")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer resp.Body.Close()
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	ws, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, wsResp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) map[string]any {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	msg := readMessage(t, ws)
	if msg.Type != WSTypeResponse {
		t.Fatalf("subscribe response type = %s, want response", msg.Type)
	}
	payload, _ := msg.Payload.(map[string]any)
	return payload
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message %q: %v", data, err)
	}
	return msg
}

func TestWebSocket_NoTicket(t *testing.T) {
	srv := testServer(t)
	code, _ := do(t, srv, http.MethodGet, "/api/v1/ws", "", "")
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestWebSocket_ValueEvents(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)
	createThermostat(t, srv, admin, "hall")

	ws := dialWebSocket(t, srv, token(t, "panel", auth.RoleViewer))
	subscribe(t, ws, ChannelResourceValue)

	mustDo(t, srv, http.MethodPut, "/api/v1/values/hall/temperatureSensor/reading", admin, `{"value":19}`, http.StatusOK)

	msg := readMessage(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelResourceValue {
		t.Fatalf("message = %s/%s, want event/%s", msg.Type, msg.EventType, ChannelResourceValue)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["path"] != "hall/temperatureSensor/reading" || payload["value"] != float64(19) {
		t.Errorf("payload = %v", payload)
	}
	if payload["writer"] != "installer" {
		t.Errorf("writer = %v, want installer", payload["writer"])
	}
}

func TestWebSocket_PatternChannel(t *testing.T) {
	srv := testServer(t)
	admin := token(t, "installer", auth.RoleAdmin)

	ws := dialWebSocket(t, srv, token(t, "panel", auth.RoleViewer))
	resp := subscribe(t, ws, ChannelPatternPrefix+"heating", ChannelPatternPrefix+"boiler")
	if rejected, _ := resp["rejected"].([]any); len(rejected) != 1 || rejected[0] != "pattern.boiler" {
		t.Errorf("rejected = %v, want [pattern.boiler]", resp["rejected"])
	}
	if n := srv.hub.FeedCount(); n != 1 {
		t.Fatalf("FeedCount() = %d, want 1", n)
	}
	if n := srv.patterns.DemandCount(); n != 1 {
		t.Fatalf("DemandCount() = %d, want 1", n)
	}

	mustDo(t, srv, http.MethodPost, "/api/v1/patterns/heating/instances", admin,
		`{"name":"kitchen","activate":true}`, http.StatusCreated)

	msg := readMessage(t, ws)
	if msg.EventType != "pattern.heating" {
		t.Fatalf("event type = %s, want pattern.heating", msg.EventType)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["event"] != "available" {
		t.Errorf("event = %v, want available", payload["event"])
	}
	inst, _ := payload["instance"].(map[string]any)
	if inst["anchor"] != "kitchen" {
		t.Errorf("anchor = %v, want kitchen", inst["anchor"])
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"pattern.heating"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if msg := readMessage(t, ws); msg.Type != WSTypeResponse {
		t.Fatalf("unsubscribe response type = %s", msg.Type)
	}
	if n := srv.patterns.DemandCount(); n != 0 {
		t.Errorf("DemandCount() = %d after unsubscribe, want 0", n)
	}
}
