package migration_0

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Principal struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Uid string `gorm:"size:64;uniqueIndex;not null"`

	FullName string `gorm:"size:255"`
	Email    string `gorm:"size:255"`

	IsActive bool `gorm:"default:true"`

	CreationTime time.Time
	LastUpdate   time.Time `gorm:"autoUpdateTime"`
}

type PrincipalPermission struct {
	PrincipalId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Permission  string    `gorm:"size:64;primaryKey"`
}

type Notification struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PrincipalId       uuid.UUID     `gorm:"type:uuid;index;not null"`
	SenderPrincipalId uuid.NullUUID `gorm:"type:uuid"`

	IsMessage bool `gorm:"default:false"`

	Category   string `gorm:"size:32"`
	Title      string `gorm:"size:255"`
	Message    string `gorm:"size:2500;not null"`
	ActionLink string `gorm:"size:2500"`

	IsRead  bool `gorm:"default:false"`
	Deleted bool `gorm:"default:false"`

	CreationDate time.Time
	LastUpdate   time.Time `gorm:"autoUpdateTime"`
}

type SchedulerState struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ActionUuid    string `gorm:"size:255;index;not null"`
	TransactionId string `gorm:"size:64"`
	IsRunning     bool   `gorm:"default:false"`

	LastUpdate time.Time `gorm:"autoUpdateTime"`
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&Principal{}, &PrincipalPermission{}, &Notification{}, &SchedulerState{})
}
