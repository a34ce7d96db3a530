package appointment

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/wingheights/wingsite"
)

const (
	prodID          = "-//Wing Heights//Insurance Quote//EN"
	inviteSummary   = "Insurance Quote Appointment"
	inviteLocation  = "Wing Heights Ghana"
	inviteURL       = "https://wingheights.com"
	inviteUIDDomain = "wingheights.com"
)

// Invite is a single-event iCalendar REQUEST for a booked appointment.
type Invite struct {
	UID         string
	Stamp       time.Time
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
	Location    string
	URL         string
	Organizer   string // mailto address, optional
}

// NewInvite builds the invite for a.
func NewInvite(a *wingsite.Appointment, organizer string, now time.Time) Invite {
	desc := fmt.Sprintf("Appointment with %s\nContact: %s\nEmail: %s", a.Name, a.ContactNumber, a.Email)
	if a.InsuranceType != "" {
		desc += "\nInsurance: " + string(a.InsuranceType)
	}
	return Invite{
		UID:         uuid.NewString() + "@" + inviteUIDDomain,
		Stamp:       now,
		Start:       a.Start,
		End:         a.End,
		Summary:     inviteSummary,
		Description: desc,
		Location:    inviteLocation,
		URL:         inviteURL,
		Organizer:   organizer,
	}
}

// Calendar returns the invite as a VCALENDAR with one VEVENT. Times are
// written in UTC.
func (inv Invite) Calendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetMethod(ics.MethodRequest)

	event := cal.AddEvent(inv.UID)
	event.SetSequence(0)
	event.SetDtStampTime(inv.Stamp)
	event.SetStartAt(inv.Start)
	event.SetEndAt(inv.End)
	event.SetSummary(inv.Summary)
	if inv.Description != "" {
		event.SetDescription(inv.Description)
	}
	if inv.Location != "" {
		event.SetLocation(inv.Location)
	}
	if inv.URL != "" {
		event.SetURL(inv.URL)
	}
	if inv.Organizer != "" {
		event.SetOrganizer("mailto:" + inv.Organizer)
	}
	event.SetStatus(ics.ObjectStatusConfirmed)
	return cal
}

// Bytes serialises the invite with CRLF line endings and folded lines.
func (inv Invite) Bytes() []byte {
	return []byte(inv.Calendar().Serialize())
}
