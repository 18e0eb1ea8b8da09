// Package events records the diamond's audit trail. Every applied cut
// produces exactly one DiamondCut event carrying the full request, so the
// trail grows with the number of requests rather than with their expansion
// into individual selectors.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

// EventType classifies an audit event.
type EventType string

const (
	EventDiamondDeployed  EventType = "diamond.deployed"
	EventDiamondCut       EventType = "diamond.cut"
	EventInterfaceChanged EventType = "diamond.interface_changed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// FacetCut mirrors one cut of a DiamondCut request.
type FacetCut struct {
	Facet     util.Uint160        `json:"facet"`
	Action    string              `json:"action"`
	Selectors []selector.Selector `json:"selectors"`
}

// CutRecord is the exact payload of one ApplyCut call.
type CutRecord struct {
	Cuts     []FacetCut    `json:"cuts"`
	Init     util.Uint160  `json:"init"`
	InitData hexutil.Bytes `json:"calldata"`
}

// Event is a structured audit event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Diamond util.Uint160 `json:"diamond"`
	Sender  util.Uint160 `json:"sender"`

	Message  string            `json:"message,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Cut      *CutRecord        `json:"cut,omitempty"`

	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// String returns the JSON encoding.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// EventFilter decides whether an event should be processed.
type EventFilter func(Event) bool

// EventLogger is the audit sink the diamond publishes to.
type EventLogger interface {
	// Log records an event.
	Log(event Event)

	// LogWithContext records an event with the trace and request IDs carried
	// by ctx.
	LogWithContext(ctx context.Context, event Event)

	// Subscribe registers a handler for events.
	Subscribe(handler EventHandler) func()

	// SubscribeFiltered registers a handler with a filter.
	SubscribeFiltered(filter EventFilter, handler EventHandler) func()

	// Recent returns the most recent N events, newest first.
	Recent(n int) []Event

	// RecentByType returns recent events of a specific type.
	RecentByType(eventType EventType, n int) []Event
}

// RingBuffer is a thread-safe circular buffer of events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

var _ EventLogger = (*RingBuffer)(nil)

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a new event ring buffer.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	// Notify handlers outside the lock
	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// LogWithContext adds context information to the event before logging.
func (rb *RingBuffer) LogWithContext(ctx context.Context, event Event) {
	if s, ok := ctx.Value(traceIDKey).(string); ok {
		event.TraceID = s
	}
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		event.RequestID = s
	}
	rb.Log(event)
}

// Subscribe registers a handler for all events.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent N events in reverse chronological order.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByType returns recent events of a specific type.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].Type == eventType {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	requestIDKey contextKey = "request_id"
)

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Publisher receives flushed events. Every EventLogger is one, and so is a
// Buffer, which lets a nested transaction hand its events to the one
// enclosing it.
type Publisher interface {
	LogWithContext(ctx context.Context, event Event)
}

// Buffer holds events emitted inside a transaction until it commits.
// A rolled-back cut must leave no audit record behind.
type Buffer struct {
	pending []Event
}

// Add queues an event.
func (b *Buffer) Add(e Event) {
	b.pending = append(b.pending, e)
}

// LogWithContext queues an event.
func (b *Buffer) LogWithContext(_ context.Context, e Event) {
	b.Add(e)
}

// Flush publishes the queued events in order and empties the buffer.
func (b *Buffer) Flush(ctx context.Context, logger Publisher) {
	for _, e := range b.pending {
		logger.LogWithContext(ctx, e)
	}
	b.pending = nil
}
