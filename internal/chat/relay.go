// Package chat connects the site's chat widget to the conversational bot.
//
// A Relay owns one WebSocket connection to the bot for as long as a widget is
// open. It reconnects on its own when the bot drops the connection, allows at
// most one outstanding request, and stops all background work when closed.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wingheights/wingsite"
)

// Options configures a Relay. Callbacks run on the relay's goroutines and
// must not call Close.
type Options struct {
	Dialer    *websocket.Dialer
	Retryer   Retryer
	Logger    *zap.Logger
	OnState   func(State)
	OnReply   func(Reply)
	OnSession func(sessionID string)
}

// Relay is a reconnecting client for the bot's WebSocket endpoint.
type Relay struct {
	url       string
	dialer    *websocket.Dialer
	retryer   Retryer
	logger    *zap.Logger
	onState   func(State)
	onReply   func(Reply)
	onSession func(string)

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	pending   bool
	opened    bool
	cancel    context.CancelFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewRelay creates a closed relay for the bot at url.
func NewRelay(url string, opts Options) *Relay {
	r := &Relay{
		url:       url,
		dialer:    opts.Dialer,
		retryer:   opts.Retryer,
		logger:    opts.Logger,
		onState:   opts.OnState,
		onReply:   opts.OnReply,
		onSession: opts.OnSession,
		state:     StateClosed,
	}
	if r.dialer == nil {
		r.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if r.retryer == nil {
		r.retryer = DefaultRetryer()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("chat")
	return r
}

// State returns the current connection state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SessionID returns the id the bot assigned to this conversation, if any.
func (r *Relay) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Pending reports whether a request is waiting for its reply.
func (r *Relay) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Open connects to the bot, retrying with the relay's Retryer. It blocks
// until the relay is connected or has given up, in which case the state is
// Errored. The connection lives until Close is called or ctx is cancelled.
func (r *Relay) Open(ctx context.Context) error {
	r.mu.Lock()
	if err := r.state.validateTransitionTo(StateConnecting); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.cancel != nil {
		r.cancel()
	}
	lifetime, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.opened = true
	r.state = StateConnecting
	r.mu.Unlock()

	r.notify(StateConnecting)
	return r.connect(lifetime)
}

// Close tears the connection down and waits for background work to stop.
// No reconnection happens afterwards. Closing twice is a no-op.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = StateClosed
	conn := r.conn
	r.conn = nil
	r.pending = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	r.wg.Wait()

	r.logger.Debug("relay closed")
	r.notify(StateClosed)
	return nil
}

// SendMessage sends free text to the bot.
func (r *Relay) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	return r.request(EventMessage, func(sessionID string) any {
		return messageRequest{SessionID: sessionID, Message: text}
	})
}

// SubmitAppointment sends booking details collected by the chat form.
func (r *Relay) SubmitAppointment(req wingsite.AppointmentRequest) error {
	return r.request(EventSubmitAppointment, func(sessionID string) any {
		return appointmentRequest{SessionID: sessionID, AppointmentDetails: req}
	})
}

func (r *Relay) request(event string, build func(sessionID string) any) error {
	r.mu.Lock()
	switch {
	case r.state == StateClosed && r.opened:
		r.mu.Unlock()
		return ErrClosed
	case !r.state.CanSend():
		r.mu.Unlock()
		return ErrNotConnected
	case r.pending:
		r.mu.Unlock()
		return ErrRequestPending
	}
	frame, err := encode(event, build(r.sessionID))
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("chat: encode %s: %w", event, err)
	}
	r.pending = true
	conn := r.conn
	r.mu.Unlock()

	r.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		if r.conn == conn {
			r.pending = false
		}
		r.mu.Unlock()
		return fmt.Errorf("chat: send %s: %w", event, err)
	}
	return nil
}

// connect dials immediately and then as often as the retryer allows.
func (r *Relay) connect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err == nil {
			return r.attach(ctx, conn)
		}
		if ctx.Err() != nil {
			return r.fail(ctx.Err())
		}
		r.logger.Debug("dial failed", zap.Int("attempt", attempt), zap.Error(err))

		delay, ok := r.retryer.NextDelay(attempt, err)
		if !ok {
			return r.fail(fmt.Errorf("chat: giving up after %d attempts: %w", attempt+1, err))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.fail(ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Relay) attach(ctx context.Context, conn *websocket.Conn) error {
	r.mu.Lock()
	if r.state != StateConnecting {
		r.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	r.conn = conn
	r.state = StateConnected
	r.pending = false
	r.wg.Add(1)
	r.mu.Unlock()

	r.retryer.Reset()
	r.logger.Info("connected", zap.String("url", r.url))
	r.notify(StateConnected)

	go r.readLoop(ctx, conn)
	return nil
}

func (r *Relay) fail(err error) error {
	r.mu.Lock()
	if r.state != StateConnecting {
		r.mu.Unlock()
		return ErrClosed
	}
	r.state = StateErrored
	r.mu.Unlock()

	r.logger.Warn("connection failed", zap.Error(err))
	r.notify(StateErrored)
	return err
}

func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer r.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.dropped(ctx, conn, err)
			return
		}
		r.dispatch(data)
	}
}

// dropped handles a connection the bot closed: one immediate redial, then
// the retryer.
func (r *Relay) dropped(ctx context.Context, conn *websocket.Conn, cause error) {
	r.mu.Lock()
	if r.state != StateConnected || r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.pending = false
	r.state = StateDisconnected
	r.mu.Unlock()

	conn.Close()
	r.logger.Info("connection lost", zap.Error(cause))
	r.notify(StateDisconnected)

	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return
	}
	r.state = StateConnecting
	r.mu.Unlock()
	r.notify(StateConnecting)

	_ = r.connect(ctx)
}

func (r *Relay) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case EventSessionCreated:
		var s sessionCreated
		if err := json.Unmarshal(env.Data, &s); err != nil {
			r.logger.Warn("malformed session_created", zap.Error(err))
			return
		}
		r.mu.Lock()
		r.sessionID = s.SessionID
		r.mu.Unlock()
		r.logger.Debug("session created", zap.String("session_id", s.SessionID))
		if r.onSession != nil {
			r.onSession(s.SessionID)
		}
	case EventResponse, EventMessage:
		var reply Reply
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			r.logger.Warn("malformed response", zap.Error(err))
			reply = Reply{Error: "malformed response from bot"}
		}
		r.complete(reply)
	case EventError:
		var e errorEvent
		_ = json.Unmarshal(env.Data, &e)
		if e.Message == "" {
			e.Message = "unknown error"
		}
		r.complete(Reply{Error: e.Message})
	default:
		r.logger.Debug("ignoring event", zap.String("event", env.Event))
	}
}

func (r *Relay) complete(reply Reply) {
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
	if r.onReply != nil {
		r.onReply(reply)
	}
}

func (r *Relay) notify(s State) {
	if r.onState != nil {
		r.onState(s)
	}
}
