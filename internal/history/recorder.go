package history

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Writer stores one value point. *influxdb.Client satisfies it.
type Writer interface {
	WriteResourceValue(path, typeName string, value any, ts time.Time)
}

// Counter is told whether each value change was written or skipped.
type Counter interface {
	HistoryPoint(written bool)
}

type noopCounter struct{}

func (noopCounter) HistoryPoint(bool) {}

// Logger defines the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Recorder writes every scalar value change in the graph to a Writer.
// Array payloads are skipped. Time values are written as RFC 3339 strings
// and integers as int64.
type Recorder struct {
	graph  *resource.Graph
	writer Writer

	mu      sync.Mutex
	reg     resource.Registration
	counter Counter
	logger  Logger
}

// NewRecorder creates a recorder for g. Call Start to begin recording.
func NewRecorder(g *resource.Graph, w Writer) *Recorder {
	return &Recorder{
		graph:   g,
		writer:  w,
		counter: noopCounter{},
		logger:  noopLogger{},
	}
}

// SetCounter sets the point counter.
func (r *Recorder) SetCounter(c Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter = c
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(l Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// Start registers the recorder with the graph. Calling Start twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg == nil {
		r.reg = r.graph.Observe(r)
	}
}

// Stop unregisters the recorder.
func (r *Recorder) Stop() {
	r.mu.Lock()
	reg := r.reg
	r.reg = nil
	r.mu.Unlock()
	if reg != nil {
		reg.Remove()
	}
}

// ResourceStructureChanged implements resource.Observer.
func (r *Recorder) ResourceStructureChanged(resource.StructureEvent) {}

// ResourceValueChanged implements resource.Observer.
func (r *Recorder) ResourceValueChanged(e resource.ValueEvent) {
	r.mu.Lock()
	counter, logger := r.counter, r.logger
	r.mu.Unlock()

	v, ok := pointValue(e.New)
	if !ok {
		logger.Debug("skipping history for non-scalar value", "path", e.Source.Path())
		counter.HistoryPoint(false)
		return
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	r.writer.WriteResourceValue(e.Source.Path(), e.Source.Type().Name(), v, ts)
	counter.HistoryPoint(true)
}

// pointValue converts a payload into a field value the time series store accepts.
func pointValue(v any) (any, bool) {
	switch x := v.(type) {
	case bool, float64, int64, string:
		return x, true
	case int:
		return int64(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	default:
		return nil, false
	}
}
