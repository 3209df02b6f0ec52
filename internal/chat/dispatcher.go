package chat

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quantdeck/assistant/internal/logging"
	"github.com/quantdeck/assistant/internal/monitoring"
)

// Handlers holds one callback per inbound event type. Nil callbacks drop
// the event. No event is filtered as redundant here; idempotent application
// is the reconciler's job.
type Handlers struct {
	OnConnection          func(Event)
	OnHistory             func(Event)
	OnMessageCreated      func(Event)
	OnGenerationStarted   func(Event)
	OnToken               func(Event)
	OnThought             func(Event)
	OnGenerationCompleted func(Event)
	OnGenerationCancelled func(Event)
	OnGenerationError     func(Event)
	OnMessagesDeleted     func(Event)
	OnMessagesUpdated     func(Event)
	OnEditStarted         func(Event)
	OnRegenerationStarted func(Event)
	OnError               func(Event)
}

// Dispatcher routes decoded frames to registered handlers. It carries no
// conversation state of its own.
type Dispatcher struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	handlers Handlers
}

// NewDispatcher creates a dispatcher with no handlers registered.
func NewDispatcher(log *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{log: log, metrics: metrics}
}

// SetHandlers replaces the registered handler set.
func (d *Dispatcher) SetHandlers(h Handlers) {
	d.mu.Lock()
	d.handlers = h
	d.mu.Unlock()
}

// Dispatch decodes one raw frame and routes it.
func (d *Dispatcher) Dispatch(raw []byte) {
	ev, err := ParseEvent(raw)
	if err != nil {
		d.log.Warn("dropping undecodable frame", zap.Error(err))
		d.metrics.ObserveDrop("decode")
		return
	}
	d.DispatchEvent(ev)
}

// DispatchEvent routes an already-decoded event to exactly one handler.
// Unknown discriminants are logged and dropped so newer gateway versions
// do not break older clients.
func (d *Dispatcher) DispatchEvent(ev Event) {
	d.mu.RLock()
	h := d.handlers
	d.mu.RUnlock()

	d.metrics.ObserveFrame(string(ev.Type))

	var fn func(Event)
	switch ev.Type {
	case EventConnection:
		fn = h.OnConnection
	case EventHistory:
		fn = h.OnHistory
	case EventMessageCreated:
		fn = h.OnMessageCreated
	case EventGenerationStarted:
		fn = h.OnGenerationStarted
	case EventToken:
		fn = h.OnToken
	case EventThought:
		fn = h.OnThought
	case EventGenerationCompleted:
		fn = h.OnGenerationCompleted
	case EventGenerationCancelled:
		fn = h.OnGenerationCancelled
	case EventGenerationError:
		fn = h.OnGenerationError
	case EventMessagesDeleted:
		fn = h.OnMessagesDeleted
	case EventMessagesUpdated:
		fn = h.OnMessagesUpdated
	case EventEditStarted:
		fn = h.OnEditStarted
	case EventRegenerationStarted:
		fn = h.OnRegenerationStarted
	case EventError:
		fn = h.OnError
	default:
		d.log.Warn("unknown event type", zap.String("type", string(ev.Type)))
		d.metrics.ObserveDrop("unknown_type")
		return
	}

	if fn == nil {
		d.log.Debug("no handler registered", zap.String("type", string(ev.Type)))
		d.metrics.ObserveDrop("no_handler")
		return
	}
	fn(ev)
}
