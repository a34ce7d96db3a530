// Package output provides notification outputs for wingsite.
// Outputs are destinations that are told about new appointment bookings.
package output

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wingheights/wingsite/internal/config"
)

// Output represents a notification destination.
// Implementations include Email and Slack.
type Output interface {
	// Name returns the output identifier (e.g., "slack", "email").
	Name() string

	// Send delivers a message to the output destination.
	// The context can be used for cancellation and timeouts.
	Send(ctx context.Context, msg Message) error

	// Close releases any resources held by the output.
	Close() error
}

// Message is one notification. Outputs use the parts they support: Slack
// posts Text, email sends Text and HTML as alternatives plus the calendar
// invite and attachments.
type Message struct {
	Subject     string
	Text        string
	HTML        string
	Calendar    []byte // iCalendar METHOD:REQUEST body, optional
	Attachments []Attachment
}

// Attachment is a file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Registry manages a collection of outputs.
type Registry struct {
	outputs map[string]Output
}

// NewRegistry creates a new output registry.
func NewRegistry() *Registry {
	return &Registry{
		outputs: make(map[string]Output),
	}
}

// Register adds an output to the registry.
func (r *Registry) Register(name string, output Output) {
	r.outputs[name] = output
}

// Get retrieves an output by name.
func (r *Registry) Get(name string) (Output, bool) {
	output, ok := r.outputs[name]
	return output, ok
}

// Len returns the number of registered outputs.
func (r *Registry) Len() int {
	return len(r.outputs)
}

// Names returns the registered output names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SendAll sends a message to all registered outputs.
func (r *Registry) SendAll(ctx context.Context, msg Message) error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.outputs[name].Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all registered outputs.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.outputs[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the email output and the registry of best-effort
// notifiers from configuration. mailer is nil when email is not configured.
func FromConfig(cfg *config.Config) (mailer Output, notifiers *Registry, err error) {
	notifiers = NewRegistry()
	if cfg.Email.IsEnabled() {
		email, err := NewEmailOutput(cfg.Email)
		if err != nil {
			return nil, nil, err
		}
		mailer = email
	}
	if cfg.Slack.IsEnabled() {
		slack, err := NewSlackOutput(cfg.Slack)
		if err != nil {
			return nil, nil, err
		}
		notifiers.Register(slack.Name(), slack)
	}
	return mailer, notifiers, nil
}
