package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/invitations/internal/app"
	"github.com/openctemio/invitations/internal/metrics"
	"github.com/openctemio/invitations/pkg/logger"
)

type fakeSender struct {
	invitations  []app.InvitationEmailJob
	verification []app.VerificationEmailJob
	notices      []app.AcceptedNoticeJob
	err          error
}

func (f *fakeSender) SendInvitation(ctx context.Context, job app.InvitationEmailJob) error {
	f.invitations = append(f.invitations, job)
	return f.err
}

func (f *fakeSender) SendVerificationCode(ctx context.Context, job app.VerificationEmailJob) error {
	f.verification = append(f.verification, job)
	return f.err
}

func (f *fakeSender) SendAcceptedNotice(ctx context.Context, job app.AcceptedNoticeJob) error {
	f.notices = append(f.notices, job)
	return f.err
}

func TestNewInvitationEmailTask(t *testing.T) {
	job := app.InvitationEmailJob{
		InvitationID:   "inv-1",
		RecipientEmail: "a@example.com",
		Token:          "abc",
		ExpiresIn:      48 * time.Hour,
	}

	task, err := NewInvitationEmailTask(job)
	require.NoError(t, err)
	assert.Equal(t, TypeEmailInvitation, task.Type())

	var decoded app.InvitationEmailJob
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, job, decoded)
}

func TestEmailTaskHandler_Dispatch(t *testing.T) {
	sender := &fakeSender{}
	h := NewEmailTaskHandler(sender, logger.NewNop())
	ctx := context.Background()

	task, err := NewInvitationEmailTask(app.InvitationEmailJob{InvitationID: "inv-1"})
	require.NoError(t, err)
	require.NoError(t, h.HandleInvitation(ctx, task))

	task, err = NewVerificationEmailTask(app.VerificationEmailJob{UserID: "u-1", Code: "123456"})
	require.NoError(t, err)
	require.NoError(t, h.HandleVerificationCode(ctx, task))

	task, err = NewAcceptedNoticeTask(app.AcceptedNoticeJob{InvitationID: "inv-1", InviterEmail: "o@example.com"})
	require.NoError(t, err)
	require.NoError(t, h.HandleAcceptedNotice(ctx, task))

	require.Len(t, sender.invitations, 1)
	assert.Equal(t, "inv-1", sender.invitations[0].InvitationID)
	require.Len(t, sender.verification, 1)
	assert.Equal(t, "123456", sender.verification[0].Code)
	require.Len(t, sender.notices, 1)
}

func TestEmailTaskHandler_SendErrorIsRetried(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp timeout")}
	h := NewEmailTaskHandler(sender, logger.NewNop())

	task, err := NewInvitationEmailTask(app.InvitationEmailJob{InvitationID: "inv-1"})
	require.NoError(t, err)

	err = h.HandleInvitation(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestEmailTaskHandler_BadPayloadSkipsRetry(t *testing.T) {
	sender := &fakeSender{}
	h := NewEmailTaskHandler(sender, logger.NewNop())

	err := h.HandleInvitation(context.Background(), asynq.NewTask(TypeEmailInvitation, []byte("{not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, sender.invitations)
}

func TestRetryBackoff(t *testing.T) {
	backoff := RetryBackoff(10*time.Second, time.Minute)

	assert.Equal(t, 10*time.Second, backoff(0, nil, nil))
	assert.Equal(t, 20*time.Second, backoff(1, nil, nil))
	assert.Equal(t, 40*time.Second, backoff(2, nil, nil))
	assert.Equal(t, time.Minute, backoff(3, nil, nil))
	assert.Equal(t, time.Minute, backoff(20, nil, nil))

	defaults := RetryBackoff(0, 0)
	assert.Equal(t, 10*time.Second, defaults(5, nil, nil))
}

func TestNewClient_RequiresAddress(t *testing.T) {
	_, err := NewClient(ClientConfig{}, logger.NewNop())
	assert.Error(t, err)
}

func newTestFailureHandler(buf *bytes.Buffer, retried, maxRetry int) *EmailFailureHandler {
	h := NewEmailFailureHandler(logger.New(logger.Config{Level: "info", Format: "json", Output: buf}))
	h.retryCount = func(context.Context) (int, bool) { return retried, true }
	h.maxRetry = func(context.Context) (int, bool) { return maxRetry, true }
	return h
}

func TestEmailFailureHandler(t *testing.T) {
	task, err := NewInvitationEmailTask(app.InvitationEmailJob{InvitationID: "inv-42", RecipientEmail: "a@example.com"})
	require.NoError(t, err)
	counter := metrics.EmailPermanentFailuresTotal.WithLabelValues(TypeEmailInvitation)

	t.Run("retries remaining", func(t *testing.T) {
		var buf bytes.Buffer
		before := testutil.ToFloat64(counter)
		newTestFailureHandler(&buf, 2, emailMaxRetry).HandleError(context.Background(), task, errors.New("smtp: 421"))
		assert.InDelta(t, before, testutil.ToFloat64(counter), 0)
		assert.Empty(t, buf.String())
	})

	t.Run("retries exhausted", func(t *testing.T) {
		var buf bytes.Buffer
		before := testutil.ToFloat64(counter)
		newTestFailureHandler(&buf, emailMaxRetry, emailMaxRetry).HandleError(context.Background(), task, errors.New("smtp: 421"))
		assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
		assert.Contains(t, buf.String(), "email delivery failed permanently")
		assert.Contains(t, buf.String(), `"invitation_id":"inv-42"`)
		assert.Contains(t, buf.String(), `"level":"ERROR"`)
	})

	t.Run("skip retry on first attempt", func(t *testing.T) {
		var buf bytes.Buffer
		before := testutil.ToFloat64(counter)
		skip := fmt.Errorf("bad payload: %w", asynq.SkipRetry)
		newTestFailureHandler(&buf, 0, emailMaxRetry).HandleError(context.Background(), task, skip)
		assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0)
	})
}
