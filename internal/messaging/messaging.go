package messaging

import (
	"context"
	"time"
)

const (
	NotificationQueue = "notification_queue"
	MessageQueue      = "message_queue"
	RetryDelay        = 5 * time.Second
	MaxConnectRetry   = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// NotificationTaskPayload is one unit of notification work, addressed to a
// single recipient.
type NotificationTaskPayload struct {
	Uid        string
	Category   string
	Title      string
	Message    string
	ActionLink string
}

// MessageTaskPayload is one unit of message work, it additionally carries the
// sender identity through to the persisted record.
type MessageTaskPayload struct {
	SenderUid string
	Uid       string
	Title     string
	Message   string
}

type Publisher interface {
	PublishNotificationTask(ctx context.Context, payload NotificationTaskPayload) error

	PublishMessageTask(ctx context.Context, payload MessageTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
