package database

import (
	"time"

	"github.com/google/uuid"
)

// Notification categories. The category is a plain classification label on the
// stored record, it carries no behavior.
const (
	CategoryUserManagement string = "USER_MANAGEMENT"
	CategoryDocument       string = "DOCUMENT"
	CategoryIssue          string = "ISSUE"
	CategoryRequestReview  string = "REQUEST_REVIEW"
	CategoryApproval       string = "APPROVAL"
	CategoryPortfolioEntry string = "PORTFOLIO_ENTRY"
	CategoryTimesheet      string = "TIMESHEET"
	CategoryInformation    string = "INFORMATION"
)

type Principal struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Uid string `gorm:"size:64;uniqueIndex;not null"`

	FullName string `gorm:"size:255"`
	Email    string `gorm:"size:255"`

	IsActive bool `gorm:"default:true"`

	CreationTime time.Time
	LastUpdate   time.Time `gorm:"autoUpdateTime"`

	Permissions   []PrincipalPermission `gorm:"foreignKey:PrincipalId;constraint:OnDelete:CASCADE"`
	Notifications []Notification        `gorm:"foreignKey:PrincipalId;constraint:OnDelete:CASCADE"`
}

type PrincipalPermission struct {
	PrincipalId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Permission  string    `gorm:"size:64;primaryKey"`
}

type Notification struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PrincipalId uuid.UUID  `gorm:"type:uuid;index;not null"`
	Principal   *Principal `gorm:"foreignKey:PrincipalId"`

	SenderPrincipalId uuid.NullUUID `gorm:"type:uuid"`
	SenderPrincipal   *Principal    `gorm:"foreignKey:SenderPrincipalId"`

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

// SchedulerState is the persisted lease which prevents two instances from
// running the same named scheduled action concurrently.
type SchedulerState struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ActionUuid    string `gorm:"size:255;index;not null"`
	TransactionId string `gorm:"size:64"`
	IsRunning     bool   `gorm:"default:false"`

	LastUpdate time.Time `gorm:"autoUpdateTime"`
}
