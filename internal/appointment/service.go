// Package appointment records insurance-quote bookings and notifies the
// support team with a calendar invite.
package appointment

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wingheights/wingsite"
	"github.com/wingheights/wingsite/internal/output"
)

// Service validates, stores and announces bookings.
type Service struct {
	store     Store
	mailer    output.Output
	notifiers *output.Registry
	organizer string
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

// Options configures a Service. Mailer and Notifiers are optional.
type Options struct {
	Mailer    output.Output
	Notifiers *output.Registry
	Organizer string         // Address used as the invite organizer
	Location  *time.Location // Zone the submitted dates are in
	Logger    *zap.Logger
}

// NewService creates a service appending to store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:     store,
		mailer:    opts.Mailer,
		notifiers: opts.Notifiers,
		organizer: opts.Organizer,
		loc:       opts.Location,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("appointment")
	return s
}

// Submit validates req, appends it to the log and emails the invite.
// Validation failures are returned as wingsite validation errors before
// anything is written. Email is skipped with a warning when no mailer is
// configured; staff notifiers are best effort.
func (s *Service) Submit(ctx context.Context, req wingsite.AppointmentRequest) (*wingsite.Appointment, error) {
	appt, err := req.Validate(s.loc)
	if err != nil {
		return nil, err
	}

	if err := s.store.Append(ctx, appt); err != nil {
		return nil, fmt.Errorf("append appointment: %w", err)
	}
	s.logger.Info("appointment recorded",
		zap.String("date", appt.FormattedDate()),
		zap.String("time", appt.Time),
		zap.String("insurance_type", string(appt.InsuranceType)))

	msg := s.message(appt)

	if s.mailer == nil {
		s.logger.Warn("email not configured, skipping calendar invite")
	} else if err := s.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("send invite: %w", err)
	}

	if s.notifiers != nil && s.notifiers.Len() > 0 {
		if err := s.notifiers.SendAll(ctx, output.Message{Subject: msg.Subject, Text: msg.Text}); err != nil {
			s.logger.Warn("staff notification failed", zap.Error(err))
		}
	}
	return appt, nil
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

var emailHTML = template.Must(template.New("email").Parse(`<h1>New Insurance Quote Appointment</h1>
<p>An appointment has been scheduled with the following details:</p>
<ul>
  <li><strong>Name:</strong> {{.Name}}</li>
  <li><strong>Contact Number:</strong> {{.ContactNumber}}</li>
  <li><strong>Email:</strong> {{.Email}}</li>
  {{- if .InsuranceType}}
  <li><strong>Insurance Type:</strong> {{.InsuranceType}}</li>
  {{- end}}
  <li><strong>Date:</strong> {{.FormattedDate}}</li>
  <li><strong>Time:</strong> {{.Start.Format "15:04"}}</li>
</ul>
<p>This event has been added to your calendar.</p>
`))

func (s *Service) message(a *wingsite.Appointment) output.Message {
	text := fmt.Sprintf("New appointment scheduled with %s on %s at %s",
		a.Name, a.FormattedDate(), a.Start.Format("15:04"))

	var html strings.Builder
	if err := emailHTML.Execute(&html, a); err != nil {
		s.logger.Warn("email template failed", zap.Error(err))
		html.Reset()
	}

	return output.Message{
		Subject:  "New Insurance Quote Appointment",
		Text:     text,
		HTML:     html.String(),
		Calendar: NewInvite(a, s.organizer, s.now()).Bytes(),
	}
}
