package chat

import (
	"encoding/json"
	"errors"

	"github.com/wingheights/wingsite"
)

// Event names on the wire.
const (
	EventSessionCreated    = "session_created"
	EventMessage           = "message"
	EventResponse          = "response"
	EventError             = "error"
	EventSubmitAppointment = "submit_appointment"
)

var (
	// ErrNotConnected is returned when a request is made outside the
	// connected state.
	ErrNotConnected = errors.New("chat: not connected")

	// ErrRequestPending is returned when a request is made before the reply
	// to the previous one arrived. The request is dropped.
	ErrRequestPending = errors.New("chat: a request is already pending")

	// ErrEmptyMessage is returned for blank messages.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrClosed is returned once the relay has been closed.
	ErrClosed = errors.New("chat: relay closed")
)

// Envelope is one frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Reply is what the bot sends back for a message or appointment.
type Reply struct {
	Response      string `json:"response"`
	RequiresInput bool   `json:"requires_input,omitempty"`
	ShowForm      bool   `json:"showForm,omitempty"`
	TokenCount    int    `json:"token_count,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty"`
	Error         string `json:"error,omitempty"`
}

type sessionCreated struct {
	SessionID string `json:"session_id"`
}

type errorEvent struct {
	Message string `json:"message"`
}

type messageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type appointmentRequest struct {
	SessionID          string                      `json:"session_id,omitempty"`
	AppointmentDetails wingsite.AppointmentRequest `json:"appointment_details"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
