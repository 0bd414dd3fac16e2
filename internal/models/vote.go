package models

import (
	"time"
)

// Vote 一个用户对一条新闻最多一行，改投时原地替换
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_vote_user_item" json:"user_id"`
	ItemID    uint      `gorm:"not null;uniqueIndex:idx_vote_user_item;index" json:"item_id"`
	Direction int       `gorm:"not null" json:"direction"` // 1 or -1
	Weight    int       `gorm:"not null" json:"weight"`    // 投票时的权重，正数
	Rewarded  bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentVote 评论投票，独立账本
type CommentVote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_cvote_user_comment" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_cvote_user_comment;index" json:"comment_id"`
	Direction int       `gorm:"not null" json:"direction"`
	Weight    int       `gorm:"not null" json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
