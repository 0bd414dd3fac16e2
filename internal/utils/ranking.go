package utils

import (
	"math"
	"time"
)

// RankConfig 排名参数
type RankConfig struct {
	Gravity float64 // 时间重力，必须 > 1
	Offset  float64 // 小时数偏移，避免新帖分母过小
}

var DefaultRankConfig = RankConfig{
	Gravity: 1.8,
	Offset:  2,
}

// ItemScore Hacker News 式排名: W / (T + 2)^G
// W = 已签名的投票权重之和（赞为正，踩为负）
// T = 发布至今的小时数
// G = Gravity
func (c RankConfig) ItemScore(voteWeight int, createdAt, now time.Time) float64 {
	hours := now.Sub(createdAt).Hours()
	if hours < 0 {
		// 时钟回拨时按刚发布处理
		hours = 0
	}
	decay := math.Pow(hours+c.Offset, c.Gravity)
	return float64(voteWeight) / decay
}

// CommentScore 评论分数不随时间衰减
func CommentScore(voteWeight int) float64 {
	return float64(voteWeight)
}

// RankedBefore 相同分数时，新发布的排在前面，再按 ID 倒序，保证顺序确定
func RankedBefore(scoreA float64, createdA time.Time, idA uint, scoreB float64, createdB time.Time, idB uint) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	if !createdA.Equal(createdB) {
		return createdA.After(createdB)
	}
	return idA > idB
}
