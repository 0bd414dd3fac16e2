package models

import (
	"time"
)

// Item 新闻条目：链接或文本二选一
type Item struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	User         User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"user"`
	NodeID       uint       `gorm:"not null;index;default:1" json:"node_id"`
	Node         Node       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Title        string     `gorm:"size:128;not null" json:"title"`
	URL          string     `gorm:"size:512" json:"url"`
	URLKey       string     `gorm:"size:512;index" json:"-"` // 规范化后的 URL，用于重复提交检测
	Text         string     `gorm:"type:text" json:"text"`
	UpVotes      int        `gorm:"not null;default:0" json:"up"`
	DownVotes    int        `gorm:"not null;default:0" json:"down"`
	VoteWeight   int        `gorm:"not null;default:0" json:"vote_weight"` // Σ 方向×权重
	Score        float64    `gorm:"not null;default:0;index" json:"score"`
	CommentCount int        `gorm:"not null;default:0" json:"comments"`
	Deleted      bool       `gorm:"not null;default:false;index" json:"deleted"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsText 文本帖（没有 URL）
func (i *Item) IsText() bool {
	return i.URL == ""
}
