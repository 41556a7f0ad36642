package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
)

// directionPattern labels pattern events in the message counter.
const directionPattern = "pattern"

// Pattern event names.
const (
	EventAvailable   = "available"
	EventUnavailable = "unavailable"
	EventChanged     = "changed"
)

// PatternEvent is the payload published when an instance of a watched
// pattern changes availability or one of its subscribed fields changes.
type PatternEvent struct {
	Pattern   string    `json:"pattern"`
	Event     string    `json:"event"`
	Anchor    string    `json:"anchor"`
	Fields    []string  `json:"fields,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PatternFeed publishes instance events of a set of patterns to MQTT.
//
// It registers observer demands, so it never claims write access on the
// fields of the patterns it watches.
//
// Thread Safety: All methods are safe for concurrent use.
type PatternFeed struct {
	manager  *pattern.Manager
	client   Client
	patterns []string
	qos      byte

	out     chan outbound
	running atomic.Bool

	mu        sync.Mutex
	listeners map[string]*feedListener
	logger    Logger
	recorder  Recorder
}

// NewPatternFeed creates a feed for the named patterns. Call Run to start it.
func NewPatternFeed(m *pattern.Manager, client Client, patterns []string, qos byte) (*PatternFeed, error) {
	if m == nil {
		return nil, fmt.Errorf("pattern manager is required")
	}
	if client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if qos > 2 {
		return nil, mqtt.ErrInvalidQoS
	}
	return &PatternFeed{
		manager:   m,
		client:    client,
		patterns:  append([]string(nil), patterns...),
		qos:       qos,
		out:       make(chan outbound, outboundBuffer),
		listeners: make(map[string]*feedListener),
		logger:    noopLogger{},
		recorder:  noopRecorder{},
	}, nil
}

// SetLogger sets the logger for the feed.
func (f *PatternFeed) SetLogger(logger Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
}

// SetRecorder sets the message counter.
func (f *PatternFeed) SetRecorder(r Recorder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorder = r
}

func (f *PatternFeed) getLogger() Logger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logger
}

func (f *PatternFeed) record(result string) {
	f.mu.Lock()
	r := f.recorder
	f.mu.Unlock()
	r.ChannelMessage(directionPattern, result)
}

// Run registers the observer demands and publishes events until ctx is
// cancelled. The demands are removed before Run returns.
func (f *PatternFeed) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer f.running.Store(false)
	defer f.stop()

	for _, name := range f.patterns {
		f.mu.Lock()
		_, dup := f.listeners[name]
		f.mu.Unlock()
		if dup {
			continue
		}
		l := &feedListener{feed: f, topic: mqtt.Topics{}.PatternEvent(name)}
		if err := f.manager.AddPatternObserver(name, l); err != nil {
			return fmt.Errorf("watching pattern %s: %w", name, err)
		}
		f.mu.Lock()
		f.listeners[name] = l
		f.mu.Unlock()
	}

	f.getLogger().Info("pattern feed started", "patterns", len(f.patterns))
	for {
		select {
		case <-ctx.Done():
			f.getLogger().Info("pattern feed stopped")
			return nil
		case msg := <-f.out:
			f.publish(msg)
		}
	}
}

func (f *PatternFeed) stop() {
	f.mu.Lock()
	listeners := f.listeners
	f.listeners = make(map[string]*feedListener)
	f.mu.Unlock()

	for name, l := range listeners {
		f.manager.RemovePatternDemand(name, l)
	}
}

func (f *PatternFeed) publish(msg outbound) {
	if err := f.client.Publish(msg.mapping.Topic, msg.payload, f.qos, false); err != nil {
		f.getLogger().Warn("publishing pattern event failed", "topic", msg.mapping.Topic, "error", err)
		f.record(resultError)
		return
	}
	f.record(resultOK)
}

func (f *PatternFeed) enqueue(topic string, ev PatternEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.getLogger().Error("encoding pattern event", "pattern", ev.Pattern, "error", err)
		f.record(resultError)
		return
	}
	select {
	case f.out <- outbound{mapping: Mapping{Topic: topic}, payload: payload}:
	default:
		f.getLogger().Warn("pattern queue full, dropping event", "pattern", ev.Pattern, "anchor", ev.Anchor)
		f.record(resultDropped)
	}
}

// feedListener forwards the callbacks of one observer demand.
type feedListener struct {
	feed  *PatternFeed
	topic string
}

func (l *feedListener) event(inst *pattern.Instance, name string, fields []string) PatternEvent {
	return PatternEvent{
		Pattern:   inst.Descriptor().Name(),
		Event:     name,
		Anchor:    inst.Anchor().Path(),
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
}

func (l *feedListener) PatternAvailable(inst *pattern.Instance) {
	l.feed.enqueue(l.topic, l.event(inst, EventAvailable, nil))
}

func (l *feedListener) PatternUnavailable(inst *pattern.Instance) {
	l.feed.enqueue(l.topic, l.event(inst, EventUnavailable, nil))
}

func (l *feedListener) PatternChanged(inst *pattern.Instance, changes []pattern.ChangeEvent) {
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	l.feed.enqueue(l.topic, l.event(inst, EventChanged, fields))
}
