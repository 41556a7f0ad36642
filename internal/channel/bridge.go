package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Bridge tuning.
const (
	// outboundBuffer is the number of value changes queued for publishing.
	outboundBuffer = 256

	resultOK      = "ok"
	resultError   = "error"
	resultDropped = "dropped"
)

// Client is the subset of the MQTT client used by the bridge.
// *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Recorder counts messages crossing the bridge.
type Recorder interface {
	ChannelMessage(direction, result string)
}

type noopRecorder struct{}

func (noopRecorder) ChannelMessage(string, string) {}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Message is the outbound payload published for a value change.
type Message struct {
	Path      string    `json:"path"`
	Value     any       `json:"value"`
	Writer    string    `json:"writer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// inbound is the accepted inbound payload shape. A bare JSON value is
// accepted as well.
type inbound struct {
	Value json.RawMessage `json:"value"`
}

type outbound struct {
	mapping Mapping
	payload []byte
}

// Options configures a Bridge.
type Options struct {
	Graph    *resource.Graph
	Client   Client
	Mappings []Mapping

	// Writer identifies inbound writes for access arbitration.
	Writer resource.Writer

	// QoS for subscriptions and publishes.
	QoS byte
}

// Bridge carries resource values between the graph and MQTT topics.
//
// Inbound mappings subscribe to a topic and write each received value into
// the mapped resource. Outbound mappings publish every value change of the
// mapped resource. Outbound mappings whose path cannot be resolved yet are
// attached as soon as the graph structure changes.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	graph    *resource.Graph
	client   Client
	mappings []Mapping
	writer   resource.Writer
	qos      byte

	out     chan outbound
	running atomic.Bool

	mu       sync.Mutex
	regs     []resource.Registration
	pending  []Mapping
	subs     []string
	observer resource.Registration

	logger   Logger
	recorder Recorder
}

// NewBridge creates a bridge. Call Run to start it.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("graph is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.QoS > 2 {
		return nil, mqtt.ErrInvalidQoS
	}
	return &Bridge{
		graph:    opts.Graph,
		client:   opts.Client,
		mappings: append([]Mapping(nil), opts.Mappings...),
		writer:   opts.Writer,
		qos:      opts.QoS,
		out:      make(chan outbound, outboundBuffer),
		logger:   noopLogger{},
		recorder: noopRecorder{},
	}, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// SetRecorder sets the message counter.
func (b *Bridge) SetRecorder(r Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = r
}

func (b *Bridge) getLogger() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

func (b *Bridge) record(d Direction, result string) {
	b.mu.Lock()
	r := b.recorder
	b.mu.Unlock()
	r.ChannelMessage(string(d), result)
}

// Run subscribes the inbound topics, attaches the outbound listeners and
// publishes value changes until ctx is cancelled. Subscriptions and
// listeners are removed before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	err := b.start()
	defer b.stop()
	if err != nil {
		return err
	}

	b.getLogger().Info("value channel started", "mappings", len(b.mappings))
	for {
		select {
		case <-ctx.Done():
			b.getLogger().Info("value channel stopped")
			return nil
		case msg := <-b.out:
			b.publish(msg)
		}
	}
}

func (b *Bridge) start() error {
	for _, m := range b.mappings {
		if m.Direction != DirectionIn {
			continue
		}
		if err := b.client.Subscribe(m.Topic, b.qos, b.inboundHandler(m)); err != nil {
			return fmt.Errorf("subscribing %s: %w", m.Topic, err)
		}
		b.mu.Lock()
		b.subs = append(b.subs, m.Topic)
		b.mu.Unlock()
	}

	b.mu.Lock()
	for _, m := range b.mappings {
		if m.Direction == DirectionOut {
			b.pending = append(b.pending, m)
		}
	}
	b.mu.Unlock()
	b.attachPending()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = b.graph.Observe(structureOnly(func(resource.StructureEvent) {
		b.attachPending()
	}))
	return nil
}

func (b *Bridge) stop() {
	b.mu.Lock()
	subs := b.subs
	regs := b.regs
	observer := b.observer
	b.subs, b.regs, b.pending, b.observer = nil, nil, nil, nil
	logger := b.logger
	b.mu.Unlock()

	if observer != nil {
		observer.Remove()
	}
	for _, r := range regs {
		r.Remove()
	}
	for _, topic := range subs {
		if err := b.client.Unsubscribe(topic); err != nil {
			logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// attachPending registers value listeners for outbound mappings whose path
// resolves now.
func (b *Bridge) attachPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return
	}
	remaining := b.pending[:0]
	for _, m := range b.pending {
		h, err := b.graph.Lookup(m.Path)
		if err != nil {
			remaining = append(remaining, m)
			continue
		}
		b.regs = append(b.regs, h.AddValueListener(b.outboundListener(m)))
		b.logger.Debug("outbound mapping attached", "path", m.Path, "topic", m.Topic)
	}
	b.pending = remaining
}

// PendingCount returns the number of outbound mappings not yet attached.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) outboundListener(m Mapping) resource.ValueListener {
	return resource.ValueListenerFunc(func(e resource.ValueEvent) {
		payload, err := json.Marshal(Message{
			Path:      m.Path,
			Value:     e.New,
			Writer:    e.Writer,
			Timestamp: e.Time,
		})
		if err != nil {
			b.getLogger().Error("encoding outbound value", "path", m.Path, "error", err)
			b.record(DirectionOut, resultError)
			return
		}
		select {
		case b.out <- outbound{mapping: m, payload: payload}:
		default:
			b.getLogger().Warn("outbound queue full, dropping value", "path", m.Path)
			b.record(DirectionOut, resultDropped)
		}
	})
}

func (b *Bridge) publish(msg outbound) {
	if err := b.client.Publish(msg.mapping.Topic, msg.payload, b.qos, msg.mapping.Retain); err != nil {
		b.getLogger().Warn("publishing value failed", "topic", msg.mapping.Topic, "error", err)
		b.record(DirectionOut, resultError)
		return
	}
	b.record(DirectionOut, resultOK)
}

func (b *Bridge) inboundHandler(m Mapping) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		if err := b.apply(m, payload); err != nil {
			b.record(DirectionIn, resultError)
			return fmt.Errorf("%s: %w", topic, err)
		}
		b.record(DirectionIn, resultOK)
		return nil
	}
}

// apply decodes payload and writes it to the mapped resource.
func (b *Bridge) apply(m Mapping, payload []byte) error {
	h, err := b.graph.Lookup(m.Path)
	if err != nil {
		return err
	}
	if !h.Exists() {
		return fmt.Errorf("%w: %s", ErrNoResource, m.Path)
	}

	raw := payload
	var env inbound
	if err := json.Unmarshal(payload, &env); err == nil && env.Value != nil {
		raw = env.Value
	}
	v, err := resource.DecodeValue(h.Type(), raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return h.SetValueAs(b.writer, v)
}

// structureOnly adapts a function to resource.Observer, ignoring value events.
type structureOnly func(resource.StructureEvent)

func (f structureOnly) ResourceStructureChanged(e resource.StructureEvent) { f(e) }
func (f structureOnly) ResourceValueChanged(resource.ValueEvent)           {}
