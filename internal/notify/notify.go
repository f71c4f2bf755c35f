// Package notify delivers fire-and-forget notifications to an external
// channel. Delivery is at-least-once from the sink's perspective; callers
// treat failures as log-only.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, recipientID, kind, title, message string, data map[string]interface{}) error
}

// Message is the wire payload shared by all sink implementations.
type Message struct {
	RecipientID string                 `json:"recipient_id"`
	Kind        string                 `json:"kind"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	SentAt      time.Time              `json:"sent_at"`
}

// LogNotifier writes notifications to the log. Default sink for offline and
// dev deployments.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (n *LogNotifier) Notify(_ context.Context, recipientID, kind, title, message string, data map[string]interface{}) error {
	n.log.Info("notification",
		zap.String("recipient_id", recipientID),
		zap.String("kind", kind),
		zap.String("title", title),
		zap.String("message", message),
		zap.Any("data", data),
	)
	return nil
}
