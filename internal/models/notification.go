package models

import (
	"time"
)

type NotificationType string

const (
	NotificationTypeCommentItem  NotificationType = "comment_item"
	NotificationTypeReplyComment NotificationType = "reply_comment"
)

type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"not null;index" json:"user_id"` // Receiver
	ActorID   uint             `gorm:"not null;index" json:"actor_id"`
	ItemID    uint             `gorm:"not null" json:"item_id"`
	CommentID uint             `gorm:"not null" json:"comment_id"`
	Type      NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	IsRead    bool             `gorm:"default:false;index" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}
