package dispatch

import (
	"context"
	"log/slog"
	"time"

	"portal-backend/internal/database"
	"portal-backend/internal/messaging"

	"gorm.io/gorm"
)

// SendingSystem selects how processed notifications reach the recipient.
type SendingSystem string

const (
	SendingInternal SendingSystem = "INTERNAL"
	SendingEmail    SendingSystem = "EMAIL"
)

type Config struct {
	PoolSize      int           `env:"NOTIFICATION_POOL_SIZE" envDefault:"4"`
	RetryNumber   int           `env:"NOTIFICATION_RETRY_NUMBER" envDefault:"10"`
	RetryWindow   time.Duration `env:"NOTIFICATION_RETRY_WINDOW" envDefault:"1m"`
	SendingSystem SendingSystem `env:"NOTIFICATION_SENDING_SYSTEM" envDefault:"INTERNAL"`
	PublicURL     string        `env:"PUBLIC_URL" envDefault:"http://localhost:8001"`
}

// Dispatcher converts notification and message requests into queued units of
// work, one per recipient. All Send methods are fire and forget: they never
// block on delivery and never return an error to the caller.
type Dispatcher struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewDispatcher(db *gorm.DB, publisher messaging.Publisher) *Dispatcher {
	return &Dispatcher{db: db, publisher: publisher}
}

func (d *Dispatcher) SendNotification(uid, category, title, message, actionLink string) {
	payload := messaging.NotificationTaskPayload{
		Uid:        uid,
		Category:   category,
		Title:      title,
		Message:    message,
		ActionLink: actionLink,
	}
	if err := d.publisher.PublishNotificationTask(context.Background(), payload); err != nil {
		slog.Error("failed to enqueue notification", "uid", uid, "title", title, "error", err)
	}
}

// SendNotificationToMany enqueues one unit of work per recipient. There is no
// atomicity across the set, partial delivery is possible.
func (d *Dispatcher) SendNotificationToMany(uids []string, category, title, message, actionLink string) {
	for _, uid := range uids {
		d.SendNotification(uid, category, title, message, actionLink)
	}
}

// SendNotificationWithPermission resolves the principals holding the named
// permission at call time and fans out to them. Membership changes after
// resolution are not reflected.
func (d *Dispatcher) SendNotificationWithPermission(permission, category, title, message, actionLink string) {
	principals, err := database.GetPrincipalsWithPermission(context.Background(), d.db, permission)
	if err != nil {
		slog.Error("failed to resolve principals with permission", "permission", permission, "error", err)
		return
	}

	uids := make([]string, len(principals))
	for i, principal := range principals {
		uids[i] = principal.Uid
	}
	d.SendNotificationToMany(uids, category, title, message, actionLink)
}

func (d *Dispatcher) SendMessage(senderUid, uid, title, message string) {
	payload := messaging.MessageTaskPayload{
		SenderUid: senderUid,
		Uid:       uid,
		Title:     title,
		Message:   message,
	}
	if err := d.publisher.PublishMessageTask(context.Background(), payload); err != nil {
		slog.Error("failed to enqueue message", "uid", uid, "title", title, "error", err)
	}
}

func (d *Dispatcher) SendMessageToMany(senderUid string, uids []string, title, message string) {
	for _, uid := range uids {
		d.SendMessage(senderUid, uid, title, message)
	}
}
