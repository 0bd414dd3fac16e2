package models

import (
	"time"
)

type KarmaLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount    int       `gorm:"not null" json:"amount"`          // 实际生效的变动（已按下限截断）
	Reason    string    `gorm:"size:100;not null" json:"reason"` // 动作描述
	CreatedAt time.Time `json:"created_at"`
}
