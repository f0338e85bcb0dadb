package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/pkg/logger"
)

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client *asynq.Client
	logger *logger.Logger
}

var _ app.EmailJobEnqueuer = (*Client)(nil)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return &Client{
		client: asynq.NewClient(redisOpt),
		logger: log.With("component", "job_client"),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueInvitationEmail enqueues an invitation email job.
func (c *Client) EnqueueInvitationEmail(ctx context.Context, job app.InvitationEmailJob) error {
	task, err := NewInvitationEmailTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return c.enqueue(ctx, task, "invitation_id", job.InvitationID)
}

// EnqueueVerificationEmail enqueues a verification code email job.
func (c *Client) EnqueueVerificationEmail(ctx context.Context, job app.VerificationEmailJob) error {
	task, err := NewVerificationEmailTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return c.enqueue(ctx, task, "user_id", job.UserID)
}

// EnqueueAcceptedNotice enqueues an acceptance notice for the inviter.
func (c *Client) EnqueueAcceptedNotice(ctx context.Context, job app.AcceptedNoticeJob) error {
	task, err := NewAcceptedNoticeTask(job)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return c.enqueue(ctx, task, "invitation_id", job.InvitationID)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, idKey, id string) error {
	log := c.logger.WithContext(ctx)

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		log.Error("failed to enqueue email",
			"type", task.Type(),
			idKey, id,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("email queued",
		"task_id", info.ID,
		"type", task.Type(),
		idKey, id,
		"queue", info.Queue,
	)
	return nil
}
