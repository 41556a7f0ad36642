package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeClient records subscriptions and publishes in memory.
type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
	c.unsubscribed = append(c.unsubscribed, topic)
	return nil
}

func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeClient) publishes() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ChannelMessage(direction, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[direction+"/"+result]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func newTestGraph(t *testing.T) *resource.Graph {
	t.Helper()
	types := resource.NewTypes()
	defs := []resource.TypeDef{
		{Name: "TemperatureSensor", Members: []resource.MemberDef{{Name: "reading", Type: resource.TypeFloat}}},
		{Name: "ValveSetting", Members: []resource.MemberDef{{Name: "stateControl", Type: resource.TypeFloat}}},
		{Name: "Valve", Members: []resource.MemberDef{{Name: "setting", Type: "ValveSetting"}}},
		{Name: "Thermostat", Members: []resource.MemberDef{
			{Name: "temperatureSensor", Type: "TemperatureSensor"},
			{Name: "valve", Type: "Valve"},
		}},
	}
	for _, def := range defs {
		if _, err := types.Register(def); err != nil {
			t.Fatalf("Register(%s) error = %v", def.Name, err)
		}
	}
	return resource.NewGraph(types, resource.Options{})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// runBridge starts b and returns a function that stops it and waits for Run to return.
func runBridge(t *testing.T, b *Bridge) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	}
	t.Cleanup(stop)
	return stop
}

func TestNewBridge_Validation(t *testing.T) {
	g := newTestGraph(t)
	if _, err := NewBridge(Options{Client: newFakeClient()}); err == nil {
		t.Error("NewBridge() without graph should fail")
	}
	if _, err := NewBridge(Options{Graph: g}); err == nil {
		t.Error("NewBridge() without client should fail")
	}
	if _, err := NewBridge(Options{Graph: g, Client: newFakeClient(), QoS: 3}); !errors.Is(err, mqtt.ErrInvalidQoS) {
		t.Errorf("NewBridge(qos 3) error = %v, want ErrInvalidQoS", err)
	}
}

func TestBridge_Inbound(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.AddTopLevel("livingRoom", g.Types().MustGet("Thermostat"), "test"); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	reading, _ := g.Lookup("livingRoom/temperatureSensor/reading")
	if err := reading.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	client := newFakeClient()
	rec := &countingRecorder{}
	b, err := NewBridge(Options{
		Graph:  g,
		Client: client,
		Mappings: []Mapping{
			{Path: "livingRoom/temperatureSensor/reading", Direction: DirectionIn, Topic: "sensors/living/temperature"},
			{Path: "livingRoom/valve/setting/stateControl", Direction: DirectionIn, Topic: "valves/living"},
		},
		Writer: resource.Writer{Owner: "channel", Priority: resource.PriorityNormal},
		QoS:    1,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	b.SetRecorder(rec)
	runBridge(t, b)
	waitFor(t, "subscriptions", func() bool { return client.handler("valves/living") != nil })

	handle := client.handler("sensors/living/temperature")
	if err := handle("sensors/living/temperature", []byte(`{"value": 21.5}`)); err != nil {
		t.Fatalf("handler() error = %v", err)
	}
	if v := reading.Value(); v != 21.5 {
		t.Errorf("Value() = %v, want 21.5", v)
	}

	// A bare JSON value is accepted too.
	if err := handle("sensors/living/temperature", []byte(`22`)); err != nil {
		t.Fatalf("handler(bare) error = %v", err)
	}
	if v := reading.Value(); v != 22.0 {
		t.Errorf("Value() = %v, want 22", v)
	}

	if err := handle("sensors/living/temperature", []byte(`{"value": "warm"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("handler(string) error = %v, want ErrInvalidPayload", err)
	}

	// The valve slot is still virtual.
	valve := client.handler("valves/living")
	if err := valve("valves/living", []byte(`{"value": 0.5}`)); !errors.Is(err, ErrNoResource) {
		t.Errorf("handler(virtual) error = %v, want ErrNoResource", err)
	}

	if got := rec.count("in/ok"); got != 2 {
		t.Errorf("in/ok = %d, want 2", got)
	}
	if got := rec.count("in/error"); got != 2 {
		t.Errorf("in/error = %d, want 2", got)
	}
}

func TestBridge_InboundAccessDenied(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.AddTopLevel("livingRoom", g.Types().MustGet("Thermostat"), "test"); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	control, _ := g.Lookup("livingRoom/valve/setting/stateControl")
	if err := control.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := control.RequestAccess("scheduler", resource.AccessExclusive, resource.PriorityHigh); err != nil {
		t.Fatalf("RequestAccess() error = %v", err)
	}

	client := newFakeClient()
	b, err := NewBridge(Options{
		Graph:    g,
		Client:   client,
		Mappings: []Mapping{{Path: "livingRoom/valve/setting/stateControl", Direction: DirectionIn, Topic: "valves/living"}},
		Writer:   resource.Writer{Owner: "channel", Priority: resource.PriorityNormal},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	runBridge(t, b)
	waitFor(t, "subscription", func() bool { return client.handler("valves/living") != nil })

	err = client.handler("valves/living")("valves/living", []byte(`{"value": 0.8}`))
	if !errors.Is(err, resource.ErrAccessDenied) {
		t.Errorf("handler() error = %v, want ErrAccessDenied", err)
	}
	if v := control.Value(); v != 0.0 {
		t.Errorf("Value() = %v, want unchanged 0", v)
	}
}

func TestBridge_Outbound(t *testing.T) {
	g := newTestGraph(t)
	client := newFakeClient()
	rec := &countingRecorder{}
	topic := mqtt.Topics{}.ResourceValue("livingRoom/valve/setting/stateControl")

	b, err := NewBridge(Options{
		Graph:  g,
		Client: client,
		Mappings: []Mapping{
			{Path: "livingRoom/valve/setting/stateControl", Direction: DirectionOut, Topic: topic, Retain: true},
		},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	b.SetRecorder(rec)
	runBridge(t, b)

	// The mapping waits for livingRoom to appear.
	waitFor(t, "structure observer", func() bool { return g.ListenerCount() == 1 })
	if n := b.PendingCount(); n != 1 {
		t.Fatalf("PendingCount() = %d, want 1", n)
	}

	if _, err := g.AddTopLevel("livingRoom", g.Types().MustGet("Thermostat"), "test"); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	if n := b.PendingCount(); n != 0 {
		t.Fatalf("PendingCount() after AddTopLevel = %d, want 0", n)
	}

	control, _ := g.Lookup("livingRoom/valve/setting/stateControl")
	if err := control.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := control.SetValueAs(resource.Writer{Owner: "ui"}, 0.4); err != nil {
		t.Fatalf("SetValueAs() error = %v", err)
	}

	waitFor(t, "publish", func() bool { return len(client.publishes()) == 1 })
	p := client.publishes()[0]
	if p.topic != topic || !p.retained {
		t.Errorf("published to %q retained=%v, want %q retained", p.topic, p.retained, topic)
	}
	var msg struct {
		Path   string  `json:"path"`
		Value  float64 `json:"value"`
		Writer string  `json:"writer"`
	}
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Path != "livingRoom/valve/setting/stateControl" || msg.Value != 0.4 || msg.Writer != "ui" {
		t.Errorf("payload = %s", p.payload)
	}
	waitFor(t, "recorder", func() bool { return rec.count("out/ok") == 1 })
}

func TestBridge_StopCleansUp(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.AddTopLevel("livingRoom", g.Types().MustGet("Thermostat"), "test"); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	client := newFakeClient()
	b, err := NewBridge(Options{
		Graph:  g,
		Client: client,
		Mappings: []Mapping{
			{Path: "livingRoom/temperatureSensor/reading", Direction: DirectionIn, Topic: "sensors/living/temperature"},
			{Path: "livingRoom/temperatureSensor/reading", Direction: DirectionOut, Topic: "out/living/temperature"},
		},
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	stop := runBridge(t, b)
	waitFor(t, "listeners", func() bool { return g.ListenerCount() == 2 })

	ctx := context.Background()
	if err := b.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	stop()
	if n := g.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() after stop = %d, want 0", n)
	}
	if len(client.unsubscribed) != 1 || client.unsubscribed[0] != "sensors/living/temperature" {
		t.Errorf("unsubscribed = %v", client.unsubscribed)
	}
}

func TestParseMappings(t *testing.T) {
	doc := `
mappings:
  - path: livingRoom/temperatureSensor/reading
    direction: in
  - path: livingRoom/valve/setting/stateControl
    direction: out
    retain: true
  - path: kitchen/temperatureSensor/reading
    direction: in
    topic: sensors/kitchen
`
	mappings, err := ParseMappings(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseMappings() error = %v", err)
	}
	if len(mappings) != 3 {
		t.Fatalf("ParseMappings() returned %d mappings, want 3", len(mappings))
	}
	var topics mqtt.Topics
	if mappings[0].Topic != topics.ResourceSet("livingRoom/temperatureSensor/reading") {
		t.Errorf("default inbound topic = %q", mappings[0].Topic)
	}
	if mappings[1].Topic != topics.ResourceValue("livingRoom/valve/setting/stateControl") || !mappings[1].Retain {
		t.Errorf("outbound mapping = %+v", mappings[1])
	}
	if mappings[2].Topic != "sensors/kitchen" {
		t.Errorf("explicit topic = %q", mappings[2].Topic)
	}
}

func TestParseMappings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad direction", "mappings:\n  - path: a/b\n    direction: both\n"},
		{"missing path", "mappings:\n  - direction: in\n"},
		{"bad path", "mappings:\n  - path: a//b\n    direction: in\n"},
		{"wildcard topic", "mappings:\n  - path: a/b\n    direction: in\n    topic: sensors/#\n"},
		{"unknown field", "mappings:\n  - path: a/b\n    direction: in\n    qos: 2\n"},
		{"duplicate inbound topic", "mappings:\n  - path: a/b\n    direction: in\n    topic: t\n  - path: a/c\n    direction: in\n    topic: t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMappings(strings.NewReader(tt.doc))
			if !errors.Is(err, ErrInvalidMapping) {
				t.Errorf("ParseMappings() error = %v, want ErrInvalidMapping", err)
			}
		})
	}
}
