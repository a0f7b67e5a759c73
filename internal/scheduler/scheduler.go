package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"portal-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// Lease rows older than this are flushed on completion, and a running
	// holder older than this is reported as likely stuck.
	DefaultStaleAfter = 24 * time.Hour
)

// Handle cancels a scheduled action. Cancel is idempotent and does not
// interrupt a run already in progress.
type Handle struct {
	stop chan struct{}
	once sync.Once
}

func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.stop) })
}

// Scheduler runs named actions after a delay or at a fixed interval. When an
// action is scheduled as exclusive, a persisted per-action lease guarantees
// that at most one run is in flight across every process sharing the
// database.
type Scheduler struct {
	db         *gorm.DB
	staleAfter time.Duration
}

func New(db *gorm.DB) *Scheduler {
	return &Scheduler{db: db, staleAfter: DefaultStaleAfter}
}

// FlushAllStates clears every lease row. Called once at process start so that
// leases orphaned by a crash do not block the next run forever.
func (s *Scheduler) FlushAllStates(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&database.SchedulerState{}).Error
}

// ScheduleOnce runs fn once after the given delay. The returned handle cancels
// the run if it has not started yet.
func (s *Scheduler) ScheduleOnce(exclusive bool, actionUuid string, delay time.Duration, fn func()) *Handle {
	h := &Handle{stop: make(chan struct{})}

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.runAction(exclusive, actionUuid, fn)
		case <-h.stop:
		}
	}()

	return h
}

// ScheduleRecurring runs fn after initialDelay and then every interval until
// the handle is cancelled.
func (s *Scheduler) ScheduleRecurring(exclusive bool, actionUuid string, initialDelay, interval time.Duration, fn func()) *Handle {
	h := &Handle{stop: make(chan struct{})}

	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
			s.runAction(exclusive, actionUuid, fn)
		case <-h.stop:
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runAction(exclusive, actionUuid, fn)
			case <-h.stop:
				return
			}
		}
	}()

	return h
}

func (s *Scheduler) runAction(exclusive bool, actionUuid string, fn func()) {
	transactionId := uuid.NewString()
	slog.Debug("scheduled action starting", "action", actionUuid, "transaction_id", transactionId)

	if exclusive && !s.checkRunAuthorization(transactionId, actionUuid) {
		return
	}

	// The lease must be released even when the action panics.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled action panicked", "action", actionUuid, "transaction_id", transactionId, "panic", r)
		}
		if exclusive {
			s.markAsCompleted(transactionId, actionUuid)
		}
		slog.Debug("scheduled action stopped", "action", actionUuid, "transaction_id", transactionId)
	}()

	fn()
}

// checkRunAuthorization takes the lease for the action, or reports the
// conflict and returns false when another transaction already holds it.
func (s *Scheduler) checkRunAuthorization(transactionId, actionUuid string) bool {
	authorized := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var state database.SchedulerState
		err := tx.Where("action_uuid = ? AND is_running = ?", actionUuid, true).First(&state).Error
		if err == nil {
			slog.Info("scheduled action will not run, another run holds the lease",
				"action", actionUuid, "transaction_id", transactionId, "holder_transaction_id", state.TransactionId)
			if time.Since(state.LastUpdate) > s.staleAfter {
				slog.Error("scheduled action lease holder appears stuck",
					"action", actionUuid, "holder_transaction_id", state.TransactionId, "held_for", time.Since(state.LastUpdate))
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		authorized = true
		return tx.Create(&database.SchedulerState{
			Id:            uuid.New(),
			ActionUuid:    actionUuid,
			TransactionId: transactionId,
			IsRunning:     true,
		}).Error
	})
	if err != nil {
		slog.Error("failed to update the scheduler state", "action", actionUuid, "error", err)
		return false
	}

	return authorized
}

// markAsCompleted releases the lease and discards stale rows.
func (s *Scheduler) markAsCompleted(transactionId, actionUuid string) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var state database.SchedulerState
		err := tx.Where("action_uuid = ? AND is_running = ?", actionUuid, true).First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Error("no running scheduler state found while completion was requested",
				"action", actionUuid, "transaction_id", transactionId)
		} else if err != nil {
			return err
		} else {
			if err := tx.Model(&state).Update("is_running", false).Error; err != nil {
				return err
			}
			slog.Info("scheduled action completed, lease released", "action", actionUuid, "transaction_id", transactionId)
		}

		return tx.Where("is_running = ? AND last_update < ?", false, time.Now().Add(-s.staleAfter)).
			Delete(&database.SchedulerState{}).Error
	})
	if err != nil {
		slog.Error("failed to mark the scheduled action as completed", "action", actionUuid, "error", err)
	}
}
