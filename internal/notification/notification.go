package notification

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	// EventBalancesUpdated signals that one of the user's account balances
	// changed and clients should refresh.
	EventBalancesUpdated = "balances.updated"
)

// Message describes a notification addressed to one user.
type Message struct {
	UserID  string
	Event   string
	Payload map[string]any
}

// Notifier delivers best-effort notifications. Delivery is fire-and-forget:
// the ledger only calls it after the enclosing transaction has committed, and
// failures are logged, never surfaced.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "user_id", message.UserID, "event", message.Event, "payload", message.Payload)
	return nil
}

// RedisNotifier publishes notifications on a per-user Redis channel so a
// realtime gateway can fan them out to connected clients.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier constructs a pub/sub backed notifier.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

// Send publishes the message as JSON to "events:user:<id>".
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(map[string]any{
		"event":   message.Event,
		"payload": message.Payload,
	})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, "events:user:"+message.UserID, payload).Err(); err != nil {
		if n.logger != nil {
			n.logger.Warn("publish notification", "user_id", message.UserID, "error", err)
		}
		return err
	}
	return nil
}
