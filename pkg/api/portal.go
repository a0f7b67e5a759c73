package api

import (
	"time"

	"github.com/google/uuid"
)

type SendNotificationRequest struct {
	// Uids are the recipients. Permission, when set, additionally fans out
	// to every principal currently holding it.
	Uids       []string `json:"uids,omitempty"`
	Permission string   `json:"permission,omitempty"`
	Category   string   `json:"category"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	ActionLink string   `json:"action_link,omitempty"`
}

type SendMessageRequest struct {
	SenderUid string   `json:"sender_uid,omitempty"`
	Uids      []string `json:"uids"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
}

type SendResponse struct {
	Message string `json:"message"`
}

type Notification struct {
	Id           uuid.UUID  `json:"id"`
	SenderId     *uuid.UUID `json:"sender_id,omitempty"`
	IsMessage    bool       `json:"is_message"`
	Category     string     `json:"category,omitempty"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	ActionLink   string     `json:"action_link,omitempty"`
	IsRead       bool       `json:"is_read"`
	CreationDate time.Time  `json:"creation_date"`
}

type NotificationListQuery struct {
	Messages   bool `schema:"messages"`
	UnreadOnly bool `schema:"unread_only"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type TriggerLoadResponse struct {
	// TransactionId keys this trigger so its outcome can be traced in the
	// logs and reports.
	TransactionId string `json:"transaction_id"`
	Message       string `json:"message"`
}

type LoadingStatusResponse struct {
	TransactionId string `json:"transaction_id"`
	Loading       bool   `json:"loading"`
}
