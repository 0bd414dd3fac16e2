package models

import (
	"time"
)

// TombstoneText 删除后的评论占位文本
const TombstoneText = "[deleted]"

type Comment struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ItemID     uint       `gorm:"not null;index" json:"item_id"`
	Item       Item       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ParentID   *uint      `gorm:"index" json:"parent_id"` // nil 为顶层评论
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	User       User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	Text       string     `gorm:"type:text;not null" json:"text"`
	UpVotes    int        `gorm:"not null;default:0" json:"up"`
	DownVotes  int        `gorm:"not null;default:0" json:"down"`
	VoteWeight int        `gorm:"not null;default:0" json:"vote_weight"`
	Score      float64    `gorm:"not null;default:0" json:"score"`
	Deleted    bool       `gorm:"not null;default:false" json:"deleted"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
