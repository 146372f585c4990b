package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/issueops/dispatchd/pkg/queue"
	"github.com/issueops/dispatchd/pkg/telemetry"
	"github.com/issueops/dispatchd/pkg/workflow"
)

// maxPayloadBytes bounds inbound webhook payload size.
const maxPayloadBytes = 1 << 20

// webhookResponse is the JSON body returned for every webhook delivery.
type webhookResponse struct {
	Status      string `json:"status"`
	Family      string `json:"family,omitempty"`
	Phase       string `json:"phase,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Message     string `json:"message,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

const (
	statusAccepted = "accepted"
	statusIgnored  = "ignored"
	statusRejected = "rejected"
)

// handleWebhook is the single inbound endpoint. It classifies the delivery,
// detects and resolves a phase, validates preconditions, and enqueues the
// dispatch. The response is written after the task is durably queued, never
// after the phase itself runs.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	timer := telemetry.NewTimer()
	eventType := r.Header.Get("X-GitHub-Event")

	ctx, span := s.telemetry.Tracer.StartWebhookSpan(r.Context(), eventType, "")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.telemetry.Metrics.RecordWebhookEvent(eventType, "error", timer.Duration())
		s.writeJSON(w, http.StatusBadRequest, webhookResponse{Status: statusRejected, Message: "failed to read request body"})
		return
	}

	classifier, resolver := s.routing()

	cls, err := classifier.Classify(eventType, body)
	if err != nil {
		if workflow.IsIgnored(err) {
			s.recordOutcome(ctx, eventType, statusIgnored, routerReason(err), nil, "", 0)
			s.telemetry.Metrics.RecordWebhookEvent(eventType, statusIgnored, timer.Duration())
			s.writeJSON(w, http.StatusOK, webhookResponse{Status: statusIgnored, Message: routerReason(err)})
			return
		}
		s.telemetry.Logger.WithError(err).Warn("Malformed webhook payload")
		s.telemetry.Metrics.RecordWebhookEvent(eventType, "error", timer.Duration())
		s.writeJSON(w, http.StatusBadRequest, webhookResponse{Status: statusRejected, Message: "malformed payload"})
		return
	}

	phase, ok := s.detector.Detect(cls.Text)
	if !ok {
		reason := "no workflow detected"
		s.recordOutcome(ctx, eventType, statusIgnored, reason, nil, "", cls.IssueNumber)
		s.telemetry.Metrics.RecordWebhookEvent(eventType, statusIgnored, timer.Duration())
		s.writeJSON(w, http.StatusOK, webhookResponse{Status: statusIgnored, Message: reason})
		return
	}

	res := resolver.Resolve(phase, cls.Text)

	if err := s.validator.Validate(ctx, res); err != nil {
		var routerErr *workflow.RouterError
		if errors.As(err, &routerErr) && routerErr.Class == workflow.ClassValidation {
			s.telemetry.Metrics.RecordValidationFailure(string(phase.Family), phase.Name, routerErr.Reason)
			s.recordOutcome(ctx, eventType, statusRejected, routerErr.Reason, &phase, res.InstanceID, cls.IssueNumber)
			s.telemetry.Metrics.RecordWebhookEvent(eventType, statusRejected, timer.Duration())

			if repErr := s.reporter.Rejection(ctx, string(phase.Family), cls.IssueNumber, routerErr.Message, routerErr.Remediation); repErr != nil {
				s.telemetry.Logger.WithError(repErr).WithIssue(cls.IssueNumber).Warn("Failed to post rejection comment")
			}

			s.writeJSON(w, http.StatusUnprocessableEntity, webhookResponse{
				Status:      statusRejected,
				Family:      string(phase.Family),
				Phase:       phase.Name,
				Message:     routerErr.Message,
				Remediation: routerErr.Remediation,
			})
			return
		}
		s.telemetry.Logger.WithError(err).Error("Validation check failed")
		s.telemetry.Metrics.RecordWebhookEvent(eventType, "error", timer.Duration())
		s.writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: statusRejected, Message: "internal error"})
		return
	}

	receipt, err := s.dispatcher.Dispatch(ctx, cls, res)
	if err != nil {
		s.telemetry.Logger.WithError(err).WithIssue(cls.IssueNumber).Error("Dispatch failed")
		s.recordOutcome(ctx, eventType, statusRejected, "dispatch failure", &phase, res.InstanceID, cls.IssueNumber)
		s.telemetry.Metrics.RecordWebhookEvent(eventType, statusRejected, timer.Duration())

		if repErr := s.reporter.Comment(ctx, string(phase.Family), cls.IssueNumber,
			"**Dispatch failed**: the request was understood but could not be started. No state was changed."); repErr != nil {
			s.telemetry.Logger.WithError(repErr).WithIssue(cls.IssueNumber).Warn("Failed to post dispatch failure comment")
		}

		s.writeJSON(w, http.StatusInternalServerError, webhookResponse{
			Status:  statusRejected,
			Family:  string(phase.Family),
			Phase:   phase.Name,
			Message: "dispatch failure",
		})
		return
	}

	telemetry.RecordSuccess(span)
	s.recordOutcome(ctx, eventType, statusAccepted, "", &phase, receipt.InstanceID, cls.IssueNumber)
	s.telemetry.Metrics.RecordWebhookEvent(eventType, statusAccepted, timer.Duration())

	s.writeJSON(w, http.StatusAccepted, webhookResponse{
		Status:     statusAccepted,
		Family:     string(receipt.Family),
		Phase:      receipt.Phase,
		InstanceID: receipt.InstanceID,
		TaskID:     receipt.TaskID,
	})
}

// recordOutcome appends a routing-audit record. Audit failures are logged,
// never surfaced to the webhook caller.
func (s *Server) recordOutcome(ctx context.Context, eventType, outcome, reason string, phase *workflow.Phase, instanceID string, issueNumber int) {
	d := &queue.Decision{
		Event:       eventType,
		Outcome:     outcome,
		Reason:      reason,
		InstanceID:  instanceID,
		IssueNumber: issueNumber,
	}
	if phase != nil {
		d.Family = string(phase.Family)
		d.Phase = phase.Name
	}
	if err := s.tasks.RecordDecision(ctx, d); err != nil {
		s.telemetry.Logger.WithError(err).Warn("Failed to record routing decision")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.telemetry.Logger.WithError(err).Warn("Failed to encode response")
	}
}

// routerReason extracts the reason from a classified router error.
func routerReason(err error) string {
	var routerErr *workflow.RouterError
	if errors.As(err, &routerErr) {
		return routerErr.Reason
	}
	return err.Error()
}
