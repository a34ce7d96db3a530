package wingsite

import (
	"fmt"
	"strings"
	"time"
)

// InsuranceType is one of the insurance categories offered by the brokerage.
type InsuranceType string

const (
	HealthInsurance   InsuranceType = "Health Insurance"
	LifeInsurance     InsuranceType = "Life Insurance"
	AutoInsurance     InsuranceType = "Auto Insurance"
	HomeInsurance     InsuranceType = "Home Insurance"
	TravelInsurance   InsuranceType = "Travel Insurance"
	BusinessInsurance InsuranceType = "Business Insurance"
)

// InsuranceTypes lists the categories in display order.
var InsuranceTypes = []InsuranceType{
	HealthInsurance,
	LifeInsurance,
	AutoInsurance,
	HomeInsurance,
	TravelInsurance,
	BusinessInsurance,
}

// Valid reports whether t is a known category.
func (t InsuranceType) Valid() bool {
	for _, known := range InsuranceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TimeSlots are the bookable appointment start times.
var TimeSlots = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"12:00", "12:30", "13:00", "13:30", "14:00", "14:30",
	"15:00", "15:30", "16:00", "16:30",
}

// AppointmentDuration is the length of a booked appointment.
const AppointmentDuration = time.Hour

// AppointmentRequest is an appointment booking as submitted by the form or the
// chat bot.
type AppointmentRequest struct {
	Name          string        `json:"name"`
	ContactNumber string        `json:"contact_number"`
	Email         string        `json:"email"`
	InsuranceType InsuranceType `json:"insuranceType,omitempty"`
	Date          string        `json:"appointmentDate"`
	Time          string        `json:"appointmentTime"`
}

// Appointment is a validated request with its date and time resolved.
type Appointment struct {
	AppointmentRequest
	Day   time.Time // Date at midnight in the booking location
	Start time.Time
	End   time.Time
}

// FormattedDate returns the date as yyyy-mm-dd.
func (a *Appointment) FormattedDate() string {
	return a.Day.Format(time.DateOnly)
}

// dateLayouts are tried in order when parsing appointmentDate. The form sends
// a JavaScript Date serialised with toJSON; other clients send plain dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
	"2006/01/02",
}

// ParseAppointmentDate parses a submitted date. Timestamps are interpreted in
// their own offset and truncated to the calendar day.
func ParseAppointmentDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseTimeSlot parses an "HH:MM" start time.
func ParseTimeSlot(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognised time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks the request and resolves its date and time in loc.
// A malformed date is reported on its own so callers can answer "Invalid date".
func (r AppointmentRequest) Validate(loc *time.Location) (*Appointment, error) {
	if loc == nil {
		loc = time.UTC
	}

	day, err := ParseAppointmentDate(r.Date, loc)
	if err != nil {
		return nil, &ValidationError{Field: "appointmentDate", Reason: "Invalid date"}
	}

	var errs ValidationErrors
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, &ValidationError{Field: "name", Reason: "name is required"})
	}
	if strings.TrimSpace(r.ContactNumber) == "" {
		errs = append(errs, &ValidationError{Field: "contact_number", Reason: "contact number is required"})
	}
	if strings.TrimSpace(r.Email) == "" {
		errs = append(errs, &ValidationError{Field: "email", Reason: "email is required"})
	}
	if r.InsuranceType != "" && !r.InsuranceType.Valid() {
		errs = append(errs, &ValidationError{Field: "insuranceType", Reason: fmt.Sprintf("unknown insurance type %q", r.InsuranceType)})
	}
	hour, minute, err := ParseTimeSlot(r.Time)
	if err != nil {
		errs = append(errs, &ValidationError{Field: "appointmentTime", Reason: err.Error()})
	}
	if len(errs) > 0 {
		return nil, errs
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	return &Appointment{
		AppointmentRequest: r,
		Day:                day,
		Start:              start,
		End:                start.Add(AppointmentDuration),
	}, nil
}
