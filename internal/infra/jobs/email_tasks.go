// Package jobs provides background job definitions and handlers using Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/logger"
)

// Task types for email jobs
const (
	TypeEmailInvitation     = "email:invitation"
	TypeEmailVerification   = "email:verification_code"
	TypeEmailAcceptedNotice = "email:invitation_accepted"
)

// QueueEmail is the queue every email task is placed on.
const QueueEmail = "email"

const (
	emailMaxRetry = 5
	emailTimeout  = 30 * time.Second
)

func newEmailTask(typename string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typename, err)
	}
	return asynq.NewTask(
		typename,
		data,
		asynq.MaxRetry(emailMaxRetry),
		asynq.Timeout(emailTimeout),
		asynq.Queue(QueueEmail),
	), nil
}

// NewInvitationEmailTask creates a new invitation email task.
func NewInvitationEmailTask(payload app.InvitationEmailJob) (*asynq.Task, error) {
	return newEmailTask(TypeEmailInvitation, payload)
}

// NewVerificationEmailTask creates a new verification code email task.
func NewVerificationEmailTask(payload app.VerificationEmailJob) (*asynq.Task, error) {
	return newEmailTask(TypeEmailVerification, payload)
}

// NewAcceptedNoticeTask creates a new acceptance notice email task.
func NewAcceptedNoticeTask(payload app.AcceptedNoticeJob) (*asynq.Task, error) {
	return newEmailTask(TypeEmailAcceptedNotice, payload)
}

// EmailSender delivers rendered email. *app.EmailService implements it.
type EmailSender interface {
	SendInvitation(ctx context.Context, job app.InvitationEmailJob) error
	SendVerificationCode(ctx context.Context, job app.VerificationEmailJob) error
	SendAcceptedNotice(ctx context.Context, job app.AcceptedNoticeJob) error
}

// EmailTaskHandler handles email task processing.
type EmailTaskHandler struct {
	emailService EmailSender
	logger       *logger.Logger
}

// NewEmailTaskHandler creates a new email task handler.
func NewEmailTaskHandler(emailService EmailSender, log *logger.Logger) *EmailTaskHandler {
	return &EmailTaskHandler{
		emailService: emailService,
		logger:       log.With("handler", "email_tasks"),
	}
}

// RegisterHandlers registers every email task on mux.
func (h *EmailTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEmailInvitation, h.HandleInvitation)
	mux.HandleFunc(TypeEmailVerification, h.HandleVerificationCode)
	mux.HandleFunc(TypeEmailAcceptedNotice, h.HandleAcceptedNotice)
}

// HandleInvitation processes invitation email tasks.
func (h *EmailTaskHandler) HandleInvitation(ctx context.Context, t *asynq.Task) error {
	var payload app.InvitationEmailJob
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	h.logger.Info("processing invitation email",
		"invitation_id", payload.InvitationID,
		"tenant_id", payload.TenantID,
	)

	err := h.emailService.SendInvitation(ctx, payload)
	recordEmailJob(t.Type(), err)
	if err != nil {
		h.logger.Error("failed to send invitation email",
			"invitation_id", payload.InvitationID,
			"error", err,
		)
		return err
	}
	return nil
}

// HandleVerificationCode processes verification code email tasks.
func (h *EmailTaskHandler) HandleVerificationCode(ctx context.Context, t *asynq.Task) error {
	var payload app.VerificationEmailJob
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	h.logger.Info("processing verification email", "user_id", payload.UserID)

	err := h.emailService.SendVerificationCode(ctx, payload)
	recordEmailJob(t.Type(), err)
	if err != nil {
		h.logger.Error("failed to send verification email",
			"user_id", payload.UserID,
			"error", err,
		)
		return err
	}
	return nil
}

// HandleAcceptedNotice processes acceptance notice tasks.
func (h *EmailTaskHandler) HandleAcceptedNotice(ctx context.Context, t *asynq.Task) error {
	var payload app.AcceptedNoticeJob
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	err := h.emailService.SendAcceptedNotice(ctx, payload)
	recordEmailJob(t.Type(), err)
	if err != nil {
		h.logger.Error("failed to send acceptance notice",
			"invitation_id", payload.InvitationID,
			"error", err,
		)
		return err
	}
	return nil
}

// decodePayload unmarshals a task payload. A payload that cannot be decoded
// will never succeed, so it is not retried.
func decodePayload(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		recordEmailJob(t.Type(), err)
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func recordEmailJob(taskType string, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailed
	}
	metrics.EmailJobsTotal.WithLabelValues(taskType, status).Inc()
}

// EmailFailureHandler is the asynq error handler. asynq calls it after every
// failed attempt; it reports the attempts after which the task is archived.
type EmailFailureHandler struct {
	logger     *logger.Logger
	retryCount func(context.Context) (int, bool)
	maxRetry   func(context.Context) (int, bool)
}

// NewEmailFailureHandler creates a handler reading retry state from the
// asynq task context.
func NewEmailFailureHandler(log *logger.Logger) *EmailFailureHandler {
	return &EmailFailureHandler{
		logger:     log.With("handler", "email_failures"),
		retryCount: asynq.GetRetryCount,
		maxRetry:   asynq.GetMaxRetry,
	}
}

// HandleError implements asynq.ErrorHandler.
func (h *EmailFailureHandler) HandleError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := h.retryCount(ctx)
	maxRetry, ok := h.maxRetry(ctx)
	if !errors.Is(err, asynq.SkipRetry) && (!ok || retried < maxRetry) {
		return
	}

	var ref struct {
		InvitationID string `json:"invitation_id"`
		UserID       string `json:"user_id"`
	}
	_ = json.Unmarshal(task.Payload(), &ref)

	metrics.EmailPermanentFailuresTotal.WithLabelValues(task.Type()).Inc()
	h.logger.WithContext(ctx).Error("email delivery failed permanently",
		"task_type", task.Type(),
		"invitation_id", ref.InvitationID,
		"user_id", ref.UserID,
		"retried", retried,
		"error", err,
	)
}
