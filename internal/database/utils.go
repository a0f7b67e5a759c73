package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrPrincipalNotFound = errors.New("principal not found")

// GetPrincipalByUid resolves a principal from its opaque user key. Returns
// ErrPrincipalNotFound when no principal carries the given uid.
func GetPrincipalByUid(ctx context.Context, db *gorm.DB, uid string) (*Principal, error) {
	var principal Principal
	if err := db.WithContext(ctx).First(&principal, "uid = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	return &principal, nil
}

// GetPrincipalsWithPermission returns the principals currently holding the
// named permission. Membership is resolved at call time.
func GetPrincipalsWithPermission(ctx context.Context, db *gorm.DB, permission string) ([]Principal, error) {
	var principals []Principal
	err := db.WithContext(ctx).
		Joins("JOIN principal_permissions ON principal_permissions.principal_id = principals.id").
		Where("principal_permissions.permission = ?", permission).
		Find(&principals).Error
	if err != nil {
		return nil, err
	}
	return principals, nil
}

func CreateNotification(ctx context.Context, db *gorm.DB, notification *Notification) error {
	if notification.Id == uuid.Nil {
		notification.Id = uuid.New()
	}
	if notification.CreationDate.IsZero() {
		notification.CreationDate = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(notification).Error
}

func ListNotifications(ctx context.Context, db *gorm.DB, principalId uuid.UUID, messages, onlyUnread bool) ([]Notification, error) {
	query := db.WithContext(ctx).
		Where("principal_id = ? AND is_message = ? AND deleted = ?", principalId, messages, false).
		Order("creation_date DESC")
	if onlyUnread {
		query = query.Where("is_read = ?", false)
	}

	var notifications []Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func CountUnread(ctx context.Context, db *gorm.DB, principalId uuid.UUID, messages bool) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Notification{}).
		Where("principal_id = ? AND is_message = ? AND is_read = ? AND deleted = ?", principalId, messages, false, false).
		Count(&count).Error
	return count, err
}

func MarkNotificationRead(ctx context.Context, db *gorm.DB, principalId, notificationId uuid.UUID) error {
	result := db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND principal_id = ?", notificationId, principalId).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteNotification soft deletes, the record stays for audit purposes.
func DeleteNotification(ctx context.Context, db *gorm.DB, principalId, notificationId uuid.UUID) error {
	result := db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND principal_id = ?", notificationId, principalId).
		Update("deleted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
