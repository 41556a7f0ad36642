package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

func newTestManager(t *testing.T, g *resource.Graph) *pattern.Manager {
	t.Helper()
	types := g.Types()
	desc, err := pattern.Define("heating", types.MustGet("Thermostat")).
		Field("reading", "temperatureSensor/reading", types.MustGet(resource.TypeFloat)).NotifyValue().
		AllowInactive().
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	catalog := pattern.NewCatalog()
	if err := catalog.Register(desc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	m := pattern.NewManager(g, catalog)
	t.Cleanup(m.Close)
	return m
}

func decodeEvents(t *testing.T, pubs []published) []PatternEvent {
	t.Helper()
	events := make([]PatternEvent, 0, len(pubs))
	for _, p := range pubs {
		var ev PatternEvent
		if err := json.Unmarshal(p.payload, &ev); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", p.payload, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestNewPatternFeed_Validation(t *testing.T) {
	g := newTestGraph(t)
	m := newTestManager(t, g)
	if _, err := NewPatternFeed(nil, newFakeClient(), nil, 0); err == nil {
		t.Error("NewPatternFeed() without manager should fail")
	}
	if _, err := NewPatternFeed(m, nil, nil, 0); err == nil {
		t.Error("NewPatternFeed() without client should fail")
	}
	if _, err := NewPatternFeed(m, newFakeClient(), nil, 5); !errors.Is(err, mqtt.ErrInvalidQoS) {
		t.Errorf("NewPatternFeed(qos 5) error = %v, want ErrInvalidQoS", err)
	}
}

func TestPatternFeed_PublishesLifecycle(t *testing.T) {
	g := newTestGraph(t)
	m := newTestManager(t, g)
	client := newFakeClient()
	rec := &countingRecorder{}

	feed, err := NewPatternFeed(m, client, []string{"heating", "heating"}, 1)
	if err != nil {
		t.Fatalf("NewPatternFeed() error = %v", err)
	}
	feed.SetRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()
	waitFor(t, "observer demand", func() bool { return m.DemandCount() == 1 })

	if _, err := g.AddTopLevel("livingRoom", g.Types().MustGet("Thermostat"), "test"); err != nil {
		t.Fatalf("AddTopLevel() error = %v", err)
	}
	reading, _ := g.Lookup("livingRoom/temperatureSensor/reading")
	if err := reading.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	waitFor(t, "available event", func() bool { return len(client.publishes()) == 1 })

	if err := reading.SetValue(19.0); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	waitFor(t, "changed event", func() bool { return len(client.publishes()) == 2 })

	if err := reading.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	waitFor(t, "unavailable event", func() bool { return len(client.publishes()) == 3 })

	pubs := client.publishes()
	for _, p := range pubs {
		if p.topic != "graylogic/resgraph/pattern/heating" || p.retained {
			t.Errorf("publish topic = %q retained = %v", p.topic, p.retained)
		}
	}
	events := decodeEvents(t, pubs)
	want := []string{EventAvailable, EventChanged, EventUnavailable}
	for i, ev := range events {
		if ev.Event != want[i] || ev.Anchor != "livingRoom" || ev.Pattern != "heating" {
			t.Errorf("event[%d] = %+v, want %s on livingRoom", i, ev, want[i])
		}
	}
	if len(events[1].Fields) != 1 || events[1].Fields[0] != "reading" {
		t.Errorf("changed fields = %v, want [reading]", events[1].Fields)
	}
	if _, _, held := reading.AccessHolder(); held {
		t.Error("observer demand claimed access")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if n := m.DemandCount(); n != 0 {
		t.Errorf("DemandCount() after stop = %d, want 0", n)
	}
	if n := rec.count("pattern/ok"); n != 3 {
		t.Errorf("pattern/ok = %d, want 3", n)
	}
}

func TestPatternFeed_UnknownPattern(t *testing.T) {
	g := newTestGraph(t)
	m := newTestManager(t, g)
	feed, err := NewPatternFeed(m, newFakeClient(), []string{"heating", "missing"}, 0)
	if err != nil {
		t.Fatalf("NewPatternFeed() error = %v", err)
	}
	if err := feed.Run(context.Background()); !errors.Is(err, pattern.ErrUnknownPattern) {
		t.Errorf("Run() error = %v, want ErrUnknownPattern", err)
	}
	if n := m.DemandCount(); n != 0 {
		t.Errorf("DemandCount() = %d, want 0 after failed start", n)
	}
}
