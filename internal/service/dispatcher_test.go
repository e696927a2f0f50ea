package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/testutil"
)

type fakeSendRepo struct {
	sends []*model.NotificationSend
}

func (f *fakeSendRepo) Create(_ context.Context, send *model.NotificationSend) error {
	f.sends = append(f.sends, send)
	return nil
}

type fakeUserRepo struct {
	user *model.User
	err  error
}

func (f *fakeUserRepo) GetByID(_ context.Context, _ string) (*model.User, error) {
	return f.user, f.err
}

type fakeEmailSender struct {
	messages []core.EmailMessage
	err      error
}

func (f *fakeEmailSender) Send(_ context.Context, msg core.EmailMessage) error {
	f.messages = append(f.messages, msg)
	return f.err
}

type fakeWebhookSender struct {
	params []core.DeliverWebhookParams
	err    error
}

func (f *fakeWebhookSender) Deliver(_ context.Context, params core.DeliverWebhookParams) error {
	f.params = append(f.params, params)
	return f.err
}

type fakeChannelPoster struct {
	posts []core.Notification
	err   error
}

func (f *fakeChannelPoster) Post(_ context.Context, _ string, n core.Notification) error {
	f.posts = append(f.posts, n)
	return f.err
}

type dispatcherHarness struct {
	svc     *DispatcherService
	sends   *fakeSendRepo
	users   *fakeUserRepo
	email   *fakeEmailSender
	webhook *fakeWebhookSender
	slack   *fakeChannelPoster
}

func newDispatcherHarness(t *testing.T) *dispatcherHarness {
	t.Helper()

	h := &dispatcherHarness{
		sends: &fakeSendRepo{},
		users: &fakeUserRepo{user: &model.User{
			ID:             "user-1",
			Email:          "owner@example.com",
			WebhookURL:     testutil.StringPtr("https://example.com/hook"),
			WebhookSecret:  testutil.StringPtr("shh"),
			WebhookEnabled: true,
		}},
		email:   &fakeEmailSender{},
		webhook: &fakeWebhookSender{},
		slack:   &fakeChannelPoster{},
	}

	svc, err := NewDispatcherService(DispatcherServiceOptions{
		Sends:   h.sends,
		Users:   h.users,
		Email:   h.email,
		Webhook: h.webhook,
		Slack:   h.slack,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func dispatchTask(channels ...model.NotificationChannel) *model.Task {
	return &model.Task{
		ID:            "task-1",
		UserID:        "user-1",
		Name:          "Release watch",
		Notifications: channels,
	}
}

func notification() core.Notification {
	return core.Notification{
		TaskID:      "task-1",
		TaskName:    "Release watch",
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Message:     "Release 2.0 shipped",
		Evidence:    "release notes published",
		Sources:     []string{"https://example.com/notes"},
	}
}

func TestDispatchEmailDefaultsToOwnerAddress(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelEmail}), notification())
	require.NoError(t, err)

	require.Len(t, h.email.messages, 1)
	msg := h.email.messages[0]
	assert.Equal(t, "owner@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Release watch")
	assert.Contains(t, msg.Markdown, "Release 2.0 shipped")
	assert.Contains(t, msg.Markdown, "https://example.com/notes")

	require.Len(t, h.sends.sends, 1)
	assert.Equal(t, model.SendSuccess, h.sends.sends[0].Status)
	assert.Equal(t, "email", h.sends.sends[0].NotificationType)
	assert.Equal(t, "owner@example.com", h.sends.sends[0].Recipient)
}

func TestDispatchEmailExplicitRecipientWins(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelEmail, Recipient: "team@example.com"}),
		notification())
	require.NoError(t, err)

	require.Len(t, h.email.messages, 1)
	assert.Equal(t, "team@example.com", h.email.messages[0].To)
}

func TestDispatchWebhookCopiesUserCredentials(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelWebhook}), notification())
	require.NoError(t, err)

	require.Len(t, h.webhook.params, 1)
	p := h.webhook.params[0]
	assert.Equal(t, "https://example.com/hook", p.WebhookURL)
	assert.Equal(t, "shh", p.Secret)
	assert.True(t, p.Payload.ConditionMet)
	assert.Equal(t, "exec-1", p.Payload.ExecutionID)
	assert.NotEmpty(t, p.Payload.Timestamp)
}

func TestDispatchWebhookDisabledForUserRecordsFailure(t *testing.T) {
	h := newDispatcherHarness(t)
	h.users.user.WebhookEnabled = false

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelWebhook}), notification())
	require.NoError(t, err)

	assert.Empty(t, h.webhook.params)
	require.Len(t, h.sends.sends, 1)
	assert.Equal(t, model.SendFailed, h.sends.sends[0].Status)
	require.NotNil(t, h.sends.sends[0].ErrorMessage)
	assert.Contains(t, *h.sends.sends[0].ErrorMessage, "not enabled")
}

func TestDispatchChannelFailureDoesNotAbortRemaining(t *testing.T) {
	h := newDispatcherHarness(t)
	h.email.err = errors.New("provider 503")

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(
			model.NotificationChannel{Type: model.ChannelEmail},
			model.NotificationChannel{Type: model.ChannelSlack, Recipient: "C012345"},
		), notification())
	require.NoError(t, err)

	require.Len(t, h.slack.posts, 1)
	require.Len(t, h.sends.sends, 2)
	assert.Equal(t, model.SendFailed, h.sends.sends[0].Status)
	assert.Equal(t, model.SendSuccess, h.sends.sends[1].Status)
}

func TestDispatchUnknownChannelRecordedAsFailed(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: "pager"}), notification())
	require.NoError(t, err)

	require.Len(t, h.sends.sends, 1)
	assert.Equal(t, model.SendFailed, h.sends.sends[0].Status)
	require.NotNil(t, h.sends.sends[0].ErrorMessage)
	assert.Contains(t, *h.sends.sends[0].ErrorMessage, "unsupported notification type")
}

func TestDispatchUserLoadFailureReturnsError(t *testing.T) {
	h := newDispatcherHarness(t)
	h.users.err = errors.New("connection refused")

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelEmail}), notification())
	require.Error(t, err)
	assert.Empty(t, h.sends.sends)
}

func TestDispatchSlackUsesChannelPoster(t *testing.T) {
	h := newDispatcherHarness(t)

	err := h.svc.Dispatch(context.Background(),
		dispatchTask(model.NotificationChannel{Type: model.ChannelSlack, Recipient: "C012345"}),
		notification())
	require.NoError(t, err)

	require.Len(t, h.slack.posts, 1)
	assert.Equal(t, "Release 2.0 shipped", h.slack.posts[0].Message)
	require.Len(t, h.sends.sends, 1)
	assert.Equal(t, "C012345", h.sends.sends[0].Recipient)
}
