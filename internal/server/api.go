package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wingheights/wingsite"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// Response messages of the appointment endpoint.
const (
	msgSubmitted      = "Form data saved and calendar invite sent successfully"
	msgSubmitFailed   = "Error processing form submission"
	msgInvalidDate    = "Invalid date"
	msgInvalidRequest = "Invalid request body"
)

// AppointmentSubmitter records a booking. appointment.Service implements it.
type AppointmentSubmitter interface {
	Submit(ctx context.Context, req wingsite.AppointmentRequest) (*wingsite.Appointment, error)
}

// AppointmentHandler serves POST /api/submit-insurance-quote.
type AppointmentHandler struct {
	submitter AppointmentSubmitter
	logger    *zap.Logger
}

// NewAppointmentHandler creates the handler.
func NewAppointmentHandler(submitter AppointmentSubmitter, logger *zap.Logger) *AppointmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentHandler{submitter: submitter, logger: logger.Named("api")}
}

// ServeHTTP decodes the form, submits it and answers with {"message": ...}.
func (h *AppointmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeJSONError(w, http.StatusServiceUnavailable, msgSubmitFailed)
		return
	}

	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req wingsite.AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	appt, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		if wingsite.IsValidation(err) {
			h.logger.Info("appointment rejected", zap.Error(err))
			writeJSONError(w, http.StatusBadRequest, validationMessage(err))
			return
		}
		h.logger.Error("appointment submission failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, msgSubmitFailed)
		return
	}

	h.logger.Info("appointment submitted",
		zap.String("date", appt.FormattedDate()),
		zap.String("time", appt.Time))
	writeJSON(w, http.StatusOK, map[string]string{"message": msgSubmitted})
}

// validationMessage turns a validation error into the text shown under the
// form. A bad date is always reported as "Invalid date".
func validationMessage(err error) string {
	var one *wingsite.ValidationError
	if errors.As(err, &one) {
		if one.Field == "appointmentDate" {
			return msgInvalidDate
		}
		return one.Reason
	}
	var many wingsite.ValidationErrors
	if errors.As(err, &many) {
		reasons := make([]string, 0, len(many))
		for _, e := range many {
			if e.Field == "appointmentDate" {
				return msgInvalidDate
			}
			reasons = append(reasons, e.Reason)
		}
		return strings.Join(reasons, "; ")
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
