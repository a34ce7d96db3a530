package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/chat"
	"github.com/wingheights/wingsite/internal/config"
)

// ChatDisabledTooltip is shown on the chat button when no bot is configured.
const ChatDisabledTooltip = "The bot is not in service for now"

// eventState carries relay state changes to the widget. All other events
// reuse the bot's names.
const eventState = "state"

const (
	browserWriteWait   = 10 * time.Second
	browserMaxFrame    = 64 << 10
	chatConnectFailure = "Failed to connect to chat server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return sameOrigin(r)
	},
}

// sameOrigin accepts requests without an Origin header and those whose
// origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// ChatBridge connects browser chat widgets at /chat/ws to the bot. A
// WebSocket bot gets one Relay per browser socket; an HTTP bot gets one
// HTTPClient per socket so each conversation keeps its own history.
type ChatBridge struct {
	cfg       config.ChatConfig
	dialer    *websocket.Dialer
	httpc     *http.Client
	submitter AppointmentSubmitter
	logger    *zap.Logger

	wg           sync.WaitGroup
	closing      chan struct{}
	shutdownOnce sync.Once
}

// ChatOption configures a ChatBridge.
type ChatOption func(*ChatBridge)

// WithChatDialer sets the dialer used to reach a WebSocket bot.
func WithChatDialer(d *websocket.Dialer) ChatOption {
	return func(b *ChatBridge) { b.dialer = d }
}

// WithChatHTTPClient sets the client used to reach an HTTP bot.
func WithChatHTTPClient(hc *http.Client) ChatOption {
	return func(b *ChatBridge) { b.httpc = hc }
}

// WithChatSubmitter lets HTTP bot conversations book appointments through
// the appointment service. WebSocket bots handle bookings themselves.
func WithChatSubmitter(s AppointmentSubmitter) ChatOption {
	return func(b *ChatBridge) { b.submitter = s }
}

// NewChatBridge creates a bridge for the configured bot.
func NewChatBridge(cfg config.ChatConfig, logger *zap.Logger, opts ...ChatOption) *ChatBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &ChatBridge{cfg: cfg, logger: logger.Named("chat-bridge"), closing: make(chan struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enabled reports whether a bot is configured.
func (b *ChatBridge) Enabled() bool {
	return b != nil && b.cfg.IsEnabled()
}

// Wait blocks until every bridged conversation has been torn down.
func (b *ChatBridge) Wait() {
	b.wg.Wait()
}

// Shutdown closes every widget socket. Hijacked connections are not closed
// by http.Server.Shutdown, so call this alongside it and then Wait.
func (b *ChatBridge) Shutdown() {
	b.shutdownOnce.Do(func() { close(b.closing) })
}

// browserConn serialises writes to one widget socket.
type browserConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *browserConn) send(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(chat.Envelope{Event: event, Data: raw})
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(browserWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Debug("write to widget failed", zap.Error(err))
	}
}

func (c *browserConn) state(s chat.State) {
	c.send(eventState, map[string]string{"state": s.String()})
}

func (c *browserConn) fail(message string) {
	c.send(chat.EventError, map[string]string{"message": message})
}

// widgetRequest is the data of a frame sent by the widget.
type widgetRequest struct {
	Message            string                      `json:"message"`
	AppointmentDetails wingsite.AppointmentRequest `json:"appointment_details"`
}

// ServeHTTP upgrades the widget socket and bridges it until either side goes
// away.
func (b *ChatBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.Enabled() {
		writeJSONError(w, http.StatusServiceUnavailable, ChatDisabledTooltip)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(browserMaxFrame)

	sessionID := uuid.NewString()
	logger := b.logger.With(zap.String("session", sessionID))
	bc := &browserConn{conn: conn, logger: logger}

	b.wg.Add(1)
	defer b.wg.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-b.closing:
			conn.Close()
		case <-ctx.Done():
		}
	}()

	logger.Debug("widget connected", zap.String("remote", conn.RemoteAddr().String()))
	if b.cfg.IsHTTP() {
		b.serveHTTPBot(ctx, bc, sessionID, logger)
	} else {
		b.serveSocketBot(ctx, bc, logger)
	}
	logger.Debug("widget disconnected")
}

// serveSocketBot relays between the widget and a WebSocket bot.
func (b *ChatBridge) serveSocketBot(ctx context.Context, bc *browserConn, logger *zap.Logger) {
	relay := chat.NewRelay(b.cfg.URL, chat.Options{
		Dialer:  b.dialer,
		Retryer: chat.NewFixedDelay(b.cfg.GetRetryDelay(), b.cfg.GetMaxRetries()),
		Logger:  logger,
		OnState: func(s chat.State) {
			bc.state(s)
			if s == chat.StateErrored {
				bc.fail(chatConnectFailure)
			}
		},
		OnReply: func(reply chat.Reply) {
			bc.send(chat.EventResponse, reply)
		},
		OnSession: func(id string) {
			bc.send(chat.EventSessionCreated, map[string]string{"session_id": id})
		},
	})

	// Open blocks through the retries, so it runs beside the widget reader.
	// Teardown cancels it first; Close then sees a settled state.
	ctx, cancel := context.WithCancel(ctx)
	var opening sync.WaitGroup
	opening.Add(1)
	go func() {
		defer opening.Done()
		if err := relay.Open(ctx); err != nil && !errors.Is(err, chat.ErrClosed) {
			logger.Debug("relay open failed", zap.Error(err))
		}
	}()
	defer func() {
		cancel()
		opening.Wait()
		relay.Close()
	}()

	b.readWidget(bc, logger, func(event string, req widgetRequest) {
		var err error
		switch event {
		case chat.EventMessage:
			err = relay.SendMessage(req.Message)
		case chat.EventSubmitAppointment:
			err = relay.SubmitAppointment(req.AppointmentDetails)
		default:
			logger.Debug("ignoring widget event", zap.String("event", event))
			return
		}
		if err != nil {
			bc.fail(requestErrorMessage(err))
		}
	})
}

// serveHTTPBot answers widget messages through a request/response bot.
func (b *ChatBridge) serveHTTPBot(ctx context.Context, bc *browserConn, sessionID string, logger *zap.Logger) {
	client := chat.NewHTTPClient(b.cfg.URL, b.httpc, logger)

	ctx, cancel := context.WithCancel(ctx)
	var (
		inflight sync.WaitGroup
		mu       sync.Mutex
		busy     bool
	)
	defer func() {
		cancel()
		inflight.Wait()
	}()

	// begin claims the conversation for one request.
	begin := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if busy {
			return false
		}
		busy = true
		return true
	}
	end := func() {
		mu.Lock()
		busy = false
		mu.Unlock()
	}

	bc.state(chat.StateConnected)
	bc.send(chat.EventSessionCreated, map[string]string{"session_id": sessionID})

	b.readWidget(bc, logger, func(event string, req widgetRequest) {
		switch event {
		case chat.EventMessage:
			if !begin() {
				bc.fail(requestErrorMessage(chat.ErrRequestPending))
				return
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				reply, err := client.Ask(ctx, req.Message)
				end()
				if err != nil {
					if ctx.Err() == nil {
						bc.fail(requestErrorMessage(err))
					}
					return
				}
				bc.send(chat.EventResponse, reply)
			}()
		case chat.EventSubmitAppointment:
			if b.submitter == nil {
				bc.fail("Booking through the chat is not available. Please use the appointment form.")
				return
			}
			if !begin() {
				bc.fail(requestErrorMessage(chat.ErrRequestPending))
				return
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				_, err := b.submitter.Submit(ctx, req.AppointmentDetails)
				end()
				if err != nil {
					if wingsite.IsValidation(err) {
						bc.fail(validationMessage(err))
					} else {
						logger.Error("chat booking failed", zap.Error(err))
						bc.fail(msgSubmitFailed)
					}
					return
				}
				bc.send(chat.EventResponse, chat.Reply{Response: msgSubmitted})
			}()
		default:
			logger.Debug("ignoring widget event", zap.String("event", event))
		}
	})
}

// readWidget reads frames from the widget until it disconnects.
func (b *ChatBridge) readWidget(bc *browserConn, logger *zap.Logger, handle func(event string, req widgetRequest)) {
	for {
		_, data, err := bc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("unexpected widget close", zap.Error(err))
			}
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Debug("malformed widget frame", zap.Error(err))
			continue
		}
		var req widgetRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				logger.Debug("malformed widget data", zap.String("event", env.Event), zap.Error(err))
				continue
			}
		}
		handle(env.Event, req)
	}
}

// requestErrorMessage maps relay errors to text for the widget.
func requestErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrRequestPending):
		return "Please wait for the current reply."
	case errors.Is(err, chat.ErrNotConnected), errors.Is(err, chat.ErrClosed):
		return "Not connected to the chat server."
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Please type a message."
	default:
		return chatConnectFailure
	}
}
