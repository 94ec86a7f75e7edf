package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/notify"
	"github.com/helmdesk/helmdesk/internal/rbac"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProvisionRoleGrants provisions the grant cross-product for a new role.
	TaskProvisionRoleGrants = "rbac:provision_role_grants"
	// TaskSendVerificationCode delivers a second-factor code out-of-band.
	TaskSendVerificationCode = "auth:send_code"
	// TaskUnlockAccounts sweeps accounts whose lock window has elapsed.
	TaskUnlockAccounts = "auth:unlock_accounts"
)

// ProvisionRoleGrantsPayload identifies the role to provision.
type ProvisionRoleGrantsPayload struct {
	RoleID int64 `json:"role_id"`
}

// SendCodePayload describes an out-of-band code delivery.
type SendCodePayload struct {
	Destination string `json:"destination"`
	Code        string `json:"code"`
	Channel     string `json:"channel"`
}

// NewProvisionRoleGrantsTask constructs an Asynq task.
func NewProvisionRoleGrantsTask(payload ProvisionRoleGrantsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProvisionRoleGrants, data), nil
}

// NewSendCodeTask constructs an Asynq task.
func NewSendCodeTask(payload SendCodePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendVerificationCode, data), nil
}

// NewUnlockAccountsTask constructs the cron sweep task.
func NewUnlockAccountsTask() *asynq.Task {
	return asynq.NewTask(TaskUnlockAccounts, nil)
}

// NewProvisionRoleGrantsHandler processes TaskProvisionRoleGrants tasks. The
// provisioning runs in its own transaction and is idempotent, so asynq retries
// after a transient failure are safe.
func NewProvisionRoleGrantsHandler(service *rbac.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ProvisionRoleGrantsPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := service.ProvisionRoleGrants(ctx, payload.RoleID); err != nil {
			logger.Error("provision role grants",
				slog.Int64("role_id", payload.RoleID), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewSendCodeHandler processes TaskSendVerificationCode tasks.
func NewSendCodeHandler(sender notify.CodeSender, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendCodePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := sender.SendCode(ctx, payload.Destination, payload.Code, payload.Channel); err != nil {
			logger.Error("send verification code",
				slog.String("channel", payload.Channel), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewUnlockAccountsHandler processes the periodic lockout sweep.
func NewUnlockAccountsHandler(service *accounts.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if _, err := service.UnlockExpiredAccounts(ctx); err != nil {
			logger.Error("unlock accounts sweep", slog.Any("error", err))
			return err
		}
		return nil
	}
}

// Client submits jobs to the queue. It satisfies rbac.Enqueuer and the session
// code enqueuer.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueProvisionRoleGrants enqueues grant provisioning for a new role.
func (c *Client) EnqueueProvisionRoleGrants(ctx context.Context, roleID int64) error {
	task, err := NewProvisionRoleGrantsTask(ProvisionRoleGrantsPayload{RoleID: roleID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// EnqueueSendCode enqueues an out-of-band code delivery.
func (c *Client) EnqueueSendCode(ctx context.Context, destination, code, channel string) error {
	task, err := NewSendCodeTask(SendCodePayload{Destination: destination, Code: code, Channel: channel})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
