package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/invitations/pkg/email"
	"github.com/openctemio/invitations/pkg/logger"
)

// EmailJobEnqueuer queues transactional email for background delivery.
type EmailJobEnqueuer interface {
	EnqueueInvitationEmail(ctx context.Context, job InvitationEmailJob) error
	EnqueueVerificationEmail(ctx context.Context, job VerificationEmailJob) error
	EnqueueAcceptedNotice(ctx context.Context, job AcceptedNoticeJob) error
}

// InvitationEmailJob is the payload of an invitation email.
type InvitationEmailJob struct {
	InvitationID   string        `json:"invitation_id"`
	TenantID       string        `json:"tenant_id"`
	RecipientEmail string        `json:"recipient_email"`
	InviterName    string        `json:"inviter_name"`
	TenantName     string        `json:"tenant_name"`
	Token          string        `json:"token"`
	Message        string        `json:"message,omitempty"`
	ExpiresIn      time.Duration `json:"expires_in"`
}

// VerificationEmailJob is the payload of an email verification code.
type VerificationEmailJob struct {
	UserID    string        `json:"user_id"`
	UserEmail string        `json:"user_email"`
	UserName  string        `json:"user_name"`
	Code      string        `json:"code"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// AcceptedNoticeJob tells an inviter that their invitation was accepted.
type AcceptedNoticeJob struct {
	InvitationID string `json:"invitation_id"`
	InviterEmail string `json:"inviter_email"`
	InviterName  string `json:"inviter_name"`
	MemberEmail  string `json:"member_email"`
	TenantName   string `json:"tenant_name"`
}

// EmailService renders and sends invitation email. The background worker
// calls it; request paths only enqueue.
type EmailService struct {
	sender        email.Sender
	appName       string
	invitationURL func(token string) string
	logger        *logger.Logger
}

// NewEmailService creates a new EmailService. invitationURL builds the accept
// link for a token.
func NewEmailService(sender email.Sender, appName string, invitationURL func(token string) string, log *logger.Logger) *EmailService {
	return &EmailService{
		sender:        sender,
		appName:       appName,
		invitationURL: invitationURL,
		logger:        log.With("service", "email"),
	}
}

// IsConfigured returns true if email service is properly configured.
func (s *EmailService) IsConfigured() bool {
	return s.sender != nil && s.sender.IsConfigured()
}

// SendInvitation sends the invitation link.
func (s *EmailService) SendInvitation(ctx context.Context, job InvitationEmailJob) error {
	if !s.IsConfigured() {
		s.logger.Warn("email service not configured, skipping invitation email",
			"invitation_id", job.InvitationID,
		)
		return nil
	}

	data := email.InvitationData{
		InviterName:   job.InviterName,
		TenantName:    job.TenantName,
		InvitationURL: s.invitationURL(job.Token),
		ExpiresIn:     formatDuration(job.ExpiresIn),
		Message:       job.Message,
		AppName:       s.appName,
	}

	if err := s.sender.SendTemplate(ctx, job.RecipientEmail, email.TemplateInvitation, data); err != nil {
		return fmt.Errorf("failed to send invitation email: %w", err)
	}

	s.logger.Info("invitation email sent", "invitation_id", job.InvitationID)
	return nil
}

// SendVerificationCode sends an email verification code.
func (s *EmailService) SendVerificationCode(ctx context.Context, job VerificationEmailJob) error {
	if !s.IsConfigured() {
		s.logger.Warn("email service not configured, skipping verification email",
			"user_id", job.UserID,
		)
		return nil
	}

	data := email.VerificationCodeData{
		UserName:  job.UserName,
		Code:      job.Code,
		ExpiresIn: formatDuration(job.ExpiresIn),
		AppName:   s.appName,
	}

	if err := s.sender.SendTemplate(ctx, job.UserEmail, email.TemplateVerificationCode, data); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	s.logger.Info("verification email sent", "user_id", job.UserID)
	return nil
}

// SendAcceptedNotice notifies the inviter of an acceptance.
func (s *EmailService) SendAcceptedNotice(ctx context.Context, job AcceptedNoticeJob) error {
	if !s.IsConfigured() || job.InviterEmail == "" {
		return nil
	}

	data := email.InvitationAcceptedData{
		InviterName: job.InviterName,
		MemberEmail: job.MemberEmail,
		TenantName:  job.TenantName,
		AppName:     s.appName,
	}

	if err := s.sender.SendTemplate(ctx, job.InviterEmail, email.TemplateInvitationAccepted, data); err != nil {
		return fmt.Errorf("failed to send acceptance notice: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d >= 24*time.Hour {
		days := int(d.Hours() / 24)
		if days == 1 {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", days)
	}
	if d >= time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	if d >= time.Minute {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
