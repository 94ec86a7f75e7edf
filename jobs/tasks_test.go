package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/shared"
)

type recordingSender struct {
	destination string
	code        string
	channel     string
	err         error
}

func (s *recordingSender) SendCode(ctx context.Context, destination, code, channel string) error {
	s.destination = destination
	s.code = code
	s.channel = channel
	return s.err
}

func TestSendCodeHandler(t *testing.T) {
	sender := &recordingSender{}
	handler := NewSendCodeHandler(sender, slog.Default())

	task, err := NewSendCodeTask(SendCodePayload{
		Destination: "ops@example.com",
		Code:        "123456",
		Channel:     "email",
	})
	require.NoError(t, err)
	require.Equal(t, TaskSendVerificationCode, task.Type())

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, "ops@example.com", sender.destination)
	assert.Equal(t, "123456", sender.code)
	assert.Equal(t, "email", sender.channel)
}

func TestSendCodeHandlerPropagatesDeliveryFailure(t *testing.T) {
	deliveryErr := errors.New("smtp: connection refused")
	handler := NewSendCodeHandler(&recordingSender{err: deliveryErr}, slog.Default())

	task, err := NewSendCodeTask(SendCodePayload{Destination: "ops@example.com", Code: "123456", Channel: "email"})
	require.NoError(t, err)

	// A transient delivery failure must stay retryable.
	err = handler(context.Background(), task)
	assert.ErrorIs(t, err, deliveryErr)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	sendHandler := NewSendCodeHandler(&recordingSender{}, slog.Default())
	err := sendHandler(context.Background(), asynq.NewTask(TaskSendVerificationCode, []byte("{broken")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	provisionHandler := NewProvisionRoleGrantsHandler(nil, slog.Default())
	err = provisionHandler(context.Background(), asynq.NewTask(TaskProvisionRoleGrants, []byte("{broken")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProvisionRoleGrantsTaskPayload(t *testing.T) {
	task, err := NewProvisionRoleGrantsTask(ProvisionRoleGrantsPayload{RoleID: 42})
	require.NoError(t, err)
	require.Equal(t, TaskProvisionRoleGrants, task.Type())

	var payload ProvisionRoleGrantsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.RoleID)
}

type sweepRepo struct {
	unlocked int64
	calls    int
}

func (r *sweepRepo) FindByIdentity(ctx context.Context, identity string) (*accounts.Account, error) {
	return nil, shared.ErrNotFound
}

func (r *sweepRepo) FindByPublicID(ctx context.Context, publicID string) (*accounts.Account, error) {
	return nil, shared.ErrNotFound
}

func (r *sweepRepo) RecordFailedAttempt(ctx context.Context, accountID int64, threshold int, lockFor time.Duration) (int, bool, error) {
	return 0, false, shared.ErrNotFound
}

func (r *sweepRepo) SetVerificationCode(ctx context.Context, accountID int64, code string, expiresAt time.Time) error {
	return shared.ErrNotFound
}

func (r *sweepRepo) ConsumeVerificationCode(ctx context.Context, accountID int64, code string, now time.Time) (bool, error) {
	return false, shared.ErrNotFound
}

func (r *sweepRepo) TouchLogin(ctx context.Context, accountID int64, at time.Time) error {
	return shared.ErrNotFound
}

func (r *sweepRepo) SetOffline(ctx context.Context, accountID int64) error {
	return shared.ErrNotFound
}

func (r *sweepRepo) UnlockExpired(ctx context.Context, now time.Time) (int64, error) {
	r.calls++
	return r.unlocked, nil
}

func TestUnlockAccountsHandlerRunsSweep(t *testing.T) {
	repo := &sweepRepo{unlocked: 3}
	service := accounts.NewService(slog.Default(), repo, accounts.LockoutConfig{Threshold: 5, LockDuration: 30 * time.Minute}, nil)
	handler := NewUnlockAccountsHandler(service, slog.Default())

	require.NoError(t, handler(context.Background(), NewUnlockAccountsTask()))
	assert.Equal(t, 1, repo.calls)
}
