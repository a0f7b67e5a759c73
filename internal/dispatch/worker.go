package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"portal-backend/internal/database"
	"portal-backend/internal/mailer"
	"portal-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Processor is the fixed pool of workers which drains the notification and
// message queues. Each worker resolves the recipient and writes the per
// recipient record (or sends an email, depending on the sending system).
type Processor struct {
	db     *gorm.DB
	mailer mailer.Sender
	cfg    Config
	wg     sync.WaitGroup
}

func NewProcessor(db *gorm.DB, sender mailer.Sender, cfg Config) *Processor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	return &Processor{db: db, mailer: sender, cfg: cfg}
}

// Start launches the worker pool against the given receiver. Workers exit when
// the receiver's task channel is closed, or individually when their failure
// budget is exhausted.
func (p *Processor) Start(receiver messaging.Receiver) {
	p.wg.Add(p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		go p.runWorker(i, receiver.Tasks())
	}
	slog.Info("notification processor started", "pool_size", p.cfg.PoolSize)
}

func (p *Processor) Wait() {
	p.wg.Wait()
}

// runWorker processes tasks until the channel closes. Task failures are
// logged and the worker resumes, but more than RetryNumber consecutive
// failures within RetryWindow tear the worker down for good. The remaining
// workers keep draining the queue.
func (p *Processor) runWorker(id int, tasks <-chan messaging.Task) {
	defer p.wg.Done()
	slog.Info("starting notification worker", "worker", id)

	failures := 0
	windowStart := time.Now()

	for task := range tasks {
		err := p.processTask(task)
		if err == nil {
			failures = 0
			continue
		}

		slog.Error("notification worker failed to process task, resuming", "worker", id, "queue", task.Type(), "error", err)

		if time.Since(windowStart) > p.cfg.RetryWindow {
			failures = 0
			windowStart = time.Now()
		}
		failures++
		if failures > p.cfg.RetryNumber {
			slog.Error("notification worker exceeded failure budget, shutting worker down",
				"worker", id, "failures", failures, "window", p.cfg.RetryWindow)
			return
		}
	}

	slog.Info("stopping notification worker", "worker", id)
}

func (p *Processor) processTask(task messaging.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing task: %v", r)
			if nackErr := task.Nack(); nackErr != nil {
				slog.Error("failed to nack task after panic", "error", nackErr)
			}
		}
	}()

	ctx := context.Background()

	switch task.Type() {
	case messaging.NotificationQueue:
		var payload messaging.NotificationTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling notification task, discarding", "error", err)
			return task.Reject()
		}
		err = p.handleNotification(ctx, payload)

	case messaging.MessageQueue:
		var payload messaging.MessageTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling message task, discarding", "error", err)
			return task.Reject()
		}
		err = p.handleMessage(ctx, payload)

	default:
		slog.Error("received task from unknown queue, discarding", "queue", task.Type())
		return task.Reject()
	}

	if err != nil {
		if nackErr := task.Nack(); nackErr != nil {
			slog.Error("failed to nack task", "error", nackErr)
		}
		return err
	}

	return task.Ack()
}

func (p *Processor) handleNotification(ctx context.Context, payload messaging.NotificationTaskPayload) error {
	principal, err := database.GetPrincipalByUid(ctx, p.db, payload.Uid)
	if err != nil {
		if errors.Is(err, database.ErrPrincipalNotFound) {
			// Business level miss: dropped, not retried.
			slog.Error("notification dropped because the recipient does not exist", "uid", payload.Uid, "title", payload.Title)
			return nil
		}
		return fmt.Errorf("failed to resolve recipient %s: %w", payload.Uid, err)
	}

	if p.cfg.SendingSystem == SendingEmail {
		return p.sendNotificationEmail(principal, payload)
	}

	notification := &database.Notification{
		PrincipalId: principal.Id,
		Category:    payload.Category,
		Title:       payload.Title,
		Message:     payload.Message,
		ActionLink:  payload.ActionLink,
	}
	if err := database.CreateNotification(ctx, p.db, notification); err != nil {
		return fmt.Errorf("failed to persist notification for %s: %w", payload.Uid, err)
	}
	return nil
}

func (p *Processor) sendNotificationEmail(principal *database.Principal, payload messaging.NotificationTaskPayload) error {
	link := payload.ActionLink
	if link != "" {
		if parsed, err := url.Parse(link); err != nil || !parsed.IsAbs() {
			link = p.cfg.PublicURL + link
		}
	}

	body := fmt.Sprintf("<html><body><p>Hello %s,</p><p>%s</p>", principal.FullName, payload.Message)
	if link != "" {
		body += fmt.Sprintf("<p><a href=%q>%s</a></p>", link, link)
	}
	body += "</body></html>"

	if err := p.mailer.Send("Portal - "+payload.Title, "", body, principal.Email); err != nil {
		return fmt.Errorf("failed to email notification to %s: %w", principal.Uid, err)
	}
	return nil
}

func (p *Processor) handleMessage(ctx context.Context, payload messaging.MessageTaskPayload) error {
	principal, err := database.GetPrincipalByUid(ctx, p.db, payload.Uid)
	if err != nil {
		if errors.Is(err, database.ErrPrincipalNotFound) {
			slog.Error("message dropped because the recipient does not exist", "uid", payload.Uid, "title", payload.Title)
			return nil
		}
		return fmt.Errorf("failed to resolve recipient %s: %w", payload.Uid, err)
	}

	var senderId uuid.NullUUID
	if payload.SenderUid != "" {
		sender, err := database.GetPrincipalByUid(ctx, p.db, payload.SenderUid)
		if err != nil {
			if !errors.Is(err, database.ErrPrincipalNotFound) {
				return fmt.Errorf("failed to resolve sender %s: %w", payload.SenderUid, err)
			}
			slog.Warn("message sender does not exist, storing without sender", "sender_uid", payload.SenderUid)
		} else {
			senderId = uuid.NullUUID{UUID: sender.Id, Valid: true}
		}
	}

	notification := &database.Notification{
		PrincipalId:       principal.Id,
		SenderPrincipalId: senderId,
		IsMessage:         true,
		Title:             payload.Title,
		Message:           payload.Message,
	}
	if err := database.CreateNotification(ctx, p.db, notification); err != nil {
		return fmt.Errorf("failed to persist message for %s: %w", payload.Uid, err)
	}
	return nil
}
