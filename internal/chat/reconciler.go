package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/quantdeck/assistant/internal/config"
	"github.com/quantdeck/assistant/internal/logging"
	"github.com/quantdeck/assistant/internal/monitoring"
	"github.com/quantdeck/assistant/internal/shared/id"
)

var (
	// ErrGenerationInFlight is returned when an operation requires that no
	// assistant message is currently pending or streaming.
	ErrGenerationInFlight = errors.New("a generation is already in flight")
	// ErrUneditableMessage is returned for edits addressed to a message the
	// server has not confirmed yet.
	ErrUneditableMessage = errors.New("message has no server id yet and cannot be edited")
)

// generationFailedText replaces empty content on a failed generation so the
// UI never renders an empty bubble.
const generationFailedText = "Generation failed. Please try again."

// Transport is the duplex channel surface the reconciler drives.
// Implemented by *Channel.
type Transport interface {
	Connect(ctx context.Context, sessionID, model string) (string, error)
	Send(frame any) error
	Disconnect()
	IsConnected() bool
}

// SessionCreator provisions a session id over REST before the first connect.
// Implemented by *api.Client.
type SessionCreator interface {
	CreateSession(ctx context.Context, model string) (string, error)
}

// Reconciler owns the canonical in-memory message list for one conversation.
// It applies inbound events under fixed precedence rules and exposes the
// outbound intents (send, cancel, edit, regenerate). All mutation of the
// message list and connection state flows through here; inbound events are
// applied strictly in arrival order.
type Reconciler struct {
	transport Transport
	sessions  SessionCreator
	cfg       config.ChatConfig
	log       *logging.Logger
	metrics   *monitoring.Metrics

	notify   func(Notification)
	onUpdate func(UpdateOrigin, Snapshot)

	// sendMu serializes outbound intents so connect-before-send cannot
	// interleave with a second send.
	sendMu sync.Mutex

	mu        sync.Mutex
	messages  []*Message
	sessionID string
	connState ConnState

	// streamingTarget is the id of the message currently receiving token
	// and thought events. Token frames may omit their id; this is the
	// fallback. Reset on disconnect and session switch.
	streamingTarget string
}

// NewReconciler creates a reconciler bound to a transport and session
// provisioner.
func NewReconciler(transport Transport, sessions SessionCreator, cfg config.ChatConfig, log *logging.Logger, metrics *monitoring.Metrics) *Reconciler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Reconciler{
		transport: transport,
		sessions:  sessions,
		cfg:       cfg,
		log:       log.Named("reconciler"),
		metrics:   metrics,
	}
}

// SetNotifier registers the callback for transient user-visible events.
func (r *Reconciler) SetNotifier(fn func(Notification)) {
	r.notify = fn
}

// SetOnUpdate registers the callback invoked with a state snapshot after
// every mutation, tagged with what originated it. The callback runs with the
// reconciler's state lock held, so observers receive snapshots in mutation
// order; it must not call back into the reconciler.
func (r *Reconciler) SetOnUpdate(fn func(UpdateOrigin, Snapshot)) {
	r.onUpdate = fn
}

// Handlers returns the dispatcher handler set bound to this reconciler.
func (r *Reconciler) Handlers() Handlers {
	return Handlers{
		OnConnection:          r.handleConnection,
		OnHistory:             r.handleHistory,
		OnMessageCreated:      r.handleMessageCreated,
		OnGenerationStarted:   r.handleGenerationStarted,
		OnToken:               r.handleToken,
		OnThought:             r.handleThought,
		OnGenerationCompleted: r.handleGenerationCompleted,
		OnGenerationCancelled: r.handleGenerationCancelled,
		OnGenerationError:     r.handleGenerationError,
		OnMessagesDeleted:     r.handleSnapshotReplace,
		OnMessagesUpdated:     r.handleSnapshotReplace,
		OnEditStarted:         r.handleEditStarted,
		OnRegenerationStarted: r.handleRegenerationStarted,
		OnError:               r.handleError,
	}
}

// ----------------------------------------------------------------------------
// Outbound intents
// ----------------------------------------------------------------------------

// Send composes and transmits a user message, appending the optimistic user
// record and assistant placeholder in one update. When disconnected it first
// resolves a session id (creating one over REST if needed) and connects, so
// the frame is never written to a closed channel.
func (r *Reconciler) Send(ctx context.Context, text string, attachments []string, activeSkill string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	composed := composeText(text, attachments, activeSkill)

	r.mu.Lock()
	if m := r.inFlight(); m != nil {
		r.mu.Unlock()
		return ErrGenerationInFlight
	}
	sessionID := r.sessionID
	r.mu.Unlock()

	if !r.transport.IsConnected() {
		if err := r.establish(ctx, sessionID); err != nil {
			return err
		}
	}

	userMsg := &Message{
		ID:      id.NewUserID(),
		Role:    RoleUser,
		Content: composed,
		Status:  StatusCompleted,
	}
	placeholder := &Message{
		ID:     id.NewAssistantID(),
		Role:   RoleAssistant,
		Status: StatusPending,
	}

	r.mu.Lock()
	r.messages = append(r.messages, userMsg, placeholder)
	r.streamingTarget = placeholder.ID
	r.emitLocked(OriginUser)
	r.mu.Unlock()

	if err := r.transport.Send(NewMessageFrame(composed)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Cancel requests cancellation of the in-flight generation. The message
// stays streaming until the gateway's acknowledgement arrives; trailing
// tokens delivered before it are still appended.
func (r *Reconciler) Cancel() error {
	return r.transport.Send(NewCancelFrame())
}

// Edit rewrites a server-confirmed message. Local-id messages are rejected
// before any frame is sent; the server responds with a replacement snapshot
// since an edit can invalidate downstream messages. No speculative local
// mutation happens here.
func (r *Reconciler) Edit(messageID, content string) error {
	if !id.IsServer(messageID) {
		return ErrUneditableMessage
	}
	n, err := id.Numeric(messageID)
	if err != nil {
		return ErrUneditableMessage
	}
	return r.transport.Send(NewEditFrame(n, content))
}

// Regenerate asks the gateway to regenerate a response. Permitted only when
// connected and no generation is in flight; the gateway's
// generation_started event creates or reuses the placeholder.
func (r *Reconciler) Regenerate(messageID string) error {
	if !r.transport.IsConnected() {
		return ErrNotConnected
	}

	r.mu.Lock()
	inFlight := r.inFlight() != nil
	r.mu.Unlock()
	if inFlight {
		return ErrGenerationInFlight
	}

	var n int64
	if messageID != "" {
		var err error
		if n, err = id.Numeric(messageID); err != nil {
			return ErrUneditableMessage
		}
	}
	return r.transport.Send(NewRegenerateFrame(n))
}

// RequestHistory asks for a full history snapshot. Called after reconnect:
// incremental state cannot be trusted across a connection boundary.
func (r *Reconciler) RequestHistory() error {
	return r.transport.Send(NewHistoryFrame(r.cfg.HistoryLimit))
}

// Disconnect tears down the channel and resets in-flight correlation state
// so a stale streaming target cannot bleed into the next session. Any
// in-flight generation is failed: its stream dies with the connection, and a
// live status would block every later send.
func (r *Reconciler) Disconnect() {
	r.transport.Disconnect()

	r.mu.Lock()
	r.connState = StateDisconnected
	r.failInFlightLocked()
	r.streamingTarget = ""
	r.emitLocked(OriginUser)
	r.mu.Unlock()
}

// Reset clears all local session state. Used when switching conversations.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.sessionID = ""
	r.streamingTarget = ""
	r.emitLocked(OriginUser)
	r.mu.Unlock()
}

// HandleTransportState mirrors channel-driven connection transitions into
// session state, keeping the reconnect window visible to observers. A
// terminal disconnect additionally fails the in-flight generation: its
// stream is gone, and the next send must be free to re-establish the
// channel instead of being rejected as in flight. Wire it to the channel
// via SetOnStateChange.
func (r *Reconciler) HandleTransportState(state ConnState) {
	r.mu.Lock()
	r.connState = state
	if state == StateDisconnected {
		r.failInFlightLocked()
		r.streamingTarget = ""
	}
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// Messages returns a copy of the current message list.
func (r *Reconciler) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}

// SessionID returns the current session id, or "" before the first connect.
func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// State returns the connection state as last observed by the reconciler.
func (r *Reconciler) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connState
}

// establish resolves a session id and opens the channel. This is the one
// user-visible latency window; the connecting state is published so the UI
// can show a busy indicator for the whole span.
func (r *Reconciler) establish(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	r.connState = StateConnecting
	r.emitLocked(OriginUser)
	r.mu.Unlock()

	if sessionID == "" && r.sessions != nil {
		created, err := r.sessions.CreateSession(ctx, r.cfg.Model)
		if err != nil {
			r.setState(StateDisconnected)
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = created
	}

	assigned, err := r.transport.Connect(ctx, sessionID, r.cfg.Model)
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("failed to connect: %w", err)
	}

	r.mu.Lock()
	r.sessionID = assigned
	r.connState = StateConnected
	r.mu.Unlock()
	return nil
}

// ----------------------------------------------------------------------------
// Inbound event application
// ----------------------------------------------------------------------------

func (r *Reconciler) handleConnection(ev Event) {
	r.mu.Lock()
	r.sessionID = ev.SessionID
	r.connState = StateConnected
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// handleHistory replaces local state with the snapshot wholesale. This is
// the resynchronization path after connect and reconnect.
func (r *Reconciler) handleHistory(ev Event) {
	r.replaceAll(ev.Messages)
}

// handleSnapshotReplace applies messages_deleted and messages_updated, both
// of which carry a full replacement list. A full replace, not a merge: the
// deliberate escape hatch for any divergence the incremental rules built up.
func (r *Reconciler) handleSnapshotReplace(ev Event) {
	r.replaceAll(ev.Messages)
}

// handleMessageCreated swaps local placeholder ids for the server-assigned
// pair. Replayed events are no-ops: a record already carrying the server id
// is left alone.
func (r *Reconciler) handleMessageCreated(ev Event) {
	r.mu.Lock()
	if ev.UserMessageID != 0 {
		r.adoptServerIDLocked(RoleUser, strconv.FormatInt(ev.UserMessageID, 10))
	}
	if ev.AssistantMessageID != 0 {
		sid := strconv.FormatInt(ev.AssistantMessageID, 10)
		r.adoptServerIDLocked(RoleAssistant, sid)
		// Subsequent token and thought events address the server id.
		r.streamingTarget = sid
	}
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// handleGenerationStarted marks the target streaming. This is the primary
// desync-recovery path: if neither the server id nor a local placeholder is
// known, a fresh assistant message is appended (regenerate flows arrive
// with no prior placeholder).
func (r *Reconciler) handleGenerationStarted(ev Event) {
	sid := ev.TargetID()

	r.mu.Lock()
	switch {
	case sid == "":
		if m := r.findLocked(r.streamingTarget); m != nil && !m.Status.Terminal() {
			m.Status = StatusStreaming
		}
	default:
		if m := r.findLocked(sid); m != nil {
			if !m.Status.Terminal() {
				m.Status = StatusStreaming
			}
			r.streamingTarget = sid
		} else if t := r.findLocked(r.streamingTarget); t != nil && t.Role == RoleAssistant && id.IsLocal(t.ID) && !t.Status.Terminal() {
			// Creation event lost or still in flight; adopt the id here.
			t.ID = sid
			t.Status = StatusStreaming
			r.streamingTarget = sid
		} else {
			r.messages = append(r.messages, &Message{
				ID:     sid,
				Role:   RoleAssistant,
				Status: StatusStreaming,
			})
			r.streamingTarget = sid
		}
	}
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// handleToken appends one fragment. The frame may omit the message id; the
// streaming target is the fallback. Tokens for terminal messages are
// dropped so a cancelled message cannot resurrect to streaming.
func (r *Reconciler) handleToken(ev Event) {
	r.mu.Lock()
	m := r.targetLocked(ev)
	if m == nil {
		r.mu.Unlock()
		r.log.Warn("token with no target", zap.Int64("message_id", ev.MessageID))
		r.metrics.ObserveDrop("no_target")
		return
	}
	if m.Status.Terminal() {
		r.mu.Unlock()
		r.metrics.ObserveDrop("terminal_target")
		return
	}
	m.Content += ev.Token
	m.Status = StatusStreaming
	r.emitLocked(OriginServer)
	r.mu.Unlock()
	r.metrics.ObserveToken()
}

// handleThought upserts the step by key. Insertion order is kept; settled
// steps never regress to a loading state.
func (r *Reconciler) handleThought(ev Event) {
	r.mu.Lock()
	m := r.targetLocked(ev)
	if m == nil {
		r.mu.Unlock()
		r.log.Warn("thought with no target", zap.String("key", ev.Key))
		r.metrics.ObserveDrop("no_target")
		return
	}
	m.UpsertThought(ev.Key, ev.Title, ev.Status)
	if m.Status == StatusPending {
		m.Status = StatusStreaming
	}
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// handleGenerationCompleted installs the authoritative final text. The
// server's final text wins over the accumulated stream; post-processing may
// differ from the token concatenation.
func (r *Reconciler) handleGenerationCompleted(ev Event) {
	r.mu.Lock()
	m := r.targetLocked(ev)
	if m == nil {
		r.mu.Unlock()
		r.metrics.ObserveDrop("no_target")
		return
	}
	m.Content = ev.Message
	m.Status = StatusCompleted
	r.clearTargetLocked(m.ID)
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// handleGenerationCancelled applies the terminal cancelled state. Content
// accumulated before the acknowledgement, including tokens that raced the
// cancel, is kept.
func (r *Reconciler) handleGenerationCancelled(ev Event) {
	r.mu.Lock()
	m := r.targetLocked(ev)
	if m == nil {
		r.mu.Unlock()
		r.metrics.ObserveDrop("no_target")
		return
	}
	m.Status = StatusCancelled
	r.clearTargetLocked(m.ID)
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

func (r *Reconciler) handleGenerationError(ev Event) {
	r.mu.Lock()
	m := r.targetLocked(ev)
	if m == nil {
		r.mu.Unlock()
		r.metrics.ObserveDrop("no_target")
		return
	}
	if m.Content == "" {
		m.Content = generationFailedText
	}
	m.Status = StatusError
	r.clearTargetLocked(m.ID)
	r.emitLocked(OriginServer)
	r.mu.Unlock()

	r.sendNotification(Notification{Level: "error", Text: ev.Message})
}

func (r *Reconciler) handleEditStarted(ev Event) {
	r.sendNotification(Notification{Level: "info", Text: "Applying edit..."})
}

func (r *Reconciler) handleRegenerationStarted(ev Event) {
	r.sendNotification(Notification{Level: "info", Text: "Regenerating response..."})
}

// handleError surfaces protocol-level errors as transient notifications.
// Never fatal to the session.
func (r *Reconciler) handleError(ev Event) {
	r.log.Warn("gateway error", zap.String("message", ev.Message))
	r.sendNotification(Notification{Level: "error", Text: ev.Message})
}

// ----------------------------------------------------------------------------
// Bookkeeping
// ----------------------------------------------------------------------------

// inFlight returns the assistant message currently pending or streaming.
// Caller holds r.mu.
func (r *Reconciler) inFlight() *Message {
	for _, m := range r.messages {
		if m.Role == RoleAssistant && (m.Status == StatusPending || m.Status == StatusStreaming) {
			return m
		}
	}
	return nil
}

// findLocked returns the message with the given id. Caller holds r.mu.
func (r *Reconciler) findLocked(msgID string) *Message {
	if msgID == "" {
		return nil
	}
	for _, m := range r.messages {
		if m.ID == msgID {
			return m
		}
	}
	return nil
}

// targetLocked resolves the message an event addresses, falling back to the
// streaming target when the frame omits its id. Caller holds r.mu.
func (r *Reconciler) targetLocked(ev Event) *Message {
	if sid := ev.TargetID(); sid != "" {
		return r.findLocked(sid)
	}
	return r.findLocked(r.streamingTarget)
}

// adoptServerIDLocked replaces the newest local-format id of the given role
// with the server id. No-op if any record already carries it. Caller holds
// r.mu.
func (r *Reconciler) adoptServerIDLocked(role Role, serverID string) {
	if r.findLocked(serverID) != nil {
		return
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.Role == role && id.IsLocal(m.ID) {
			if r.streamingTarget == m.ID {
				r.streamingTarget = serverID
			}
			m.ID = serverID
			return
		}
	}
}

// clearTargetLocked drops the streaming target if it points at the given
// message. Caller holds r.mu.
func (r *Reconciler) clearTargetLocked(msgID string) {
	if r.streamingTarget == msgID {
		r.streamingTarget = ""
	}
}

// replaceAll installs a server snapshot as the new message list.
func (r *Reconciler) replaceAll(wire []WireMessage) {
	msgs := make([]*Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, w.ToMessage())
	}

	r.mu.Lock()
	r.messages = msgs
	r.streamingTarget = ""
	for _, m := range msgs {
		if m.Role == RoleAssistant && (m.Status == StatusPending || m.Status == StatusStreaming) {
			r.streamingTarget = m.ID
		}
	}
	r.emitLocked(OriginServer)
	r.mu.Unlock()
}

// snapshotLocked copies current state for observers. Caller holds r.mu.
func (r *Reconciler) snapshotLocked() Snapshot {
	msgs := make([]Message, len(r.messages))
	for i, m := range r.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		SessionID: r.sessionID,
		State:     r.connState,
		Messages:  msgs,
	}
}

func (r *Reconciler) setState(state ConnState) {
	r.mu.Lock()
	r.connState = state
	r.mu.Unlock()
}

// failInFlightLocked moves a live assistant message to error when the
// stream backing it is gone. Caller holds r.mu.
func (r *Reconciler) failInFlightLocked() {
	m := r.inFlight()
	if m == nil {
		return
	}
	if m.Content == "" {
		m.Content = generationFailedText
	}
	m.Status = StatusError
}

// emitLocked snapshots and delivers while r.mu is held, so observers
// receive snapshots in mutation order. Caller holds r.mu.
func (r *Reconciler) emitLocked(origin UpdateOrigin) {
	if r.onUpdate != nil {
		r.onUpdate(origin, r.snapshotLocked())
	}
}

func (r *Reconciler) sendNotification(n Notification) {
	if r.notify != nil {
		r.notify(n)
	}
}

// composeText builds the final outbound text: an active skill prefixes the
// text as a slash command, attachment references go on a suffix line.
func composeText(text string, attachments []string, activeSkill string) string {
	composed := text
	if activeSkill != "" {
		composed = "/" + activeSkill + " " + composed
	}
	if len(attachments) > 0 {
		composed += "\n" + strings.Join(attachments, "\n")
	}
	return composed
}
