package utils

import (
	"fmt"
	"sort"
)

// Direction 投票方向
type Direction int

const (
	Down Direction = -1
	Up   Direction = 1
)

// ParseDirection 解析 "up" / "down"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return 0, fmt.Errorf("invalid vote direction %q", s)
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "invalid"
}

func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// WeightStep 积分达到 MinKarma 后获得的投票权重
type WeightStep struct {
	MinKarma int `yaml:"min_karma"`
	Weight   int `yaml:"weight"`
}

// KarmaPolicy 积分门槛与权重阶梯
type KarmaPolicy struct {
	Initial     int          `yaml:"initial"`      // 新用户初始积分
	Floor       int          `yaml:"floor"`        // 积分下限，避免被彻底锁死
	UpvoteMin   int          `yaml:"upvote_min"`   // 点赞所需最低积分
	DownvoteMin int          `yaml:"downvote_min"` // 点踩所需最低积分（高于点赞）
	SubmitMin   int          `yaml:"submit_min"`
	CommentMin  int          `yaml:"comment_min"`
	UpWeights   []WeightStep `yaml:"up_weights"`
	DownWeights []WeightStep `yaml:"down_weights"`
}

var DefaultKarmaPolicy = KarmaPolicy{
	Initial:     1,
	Floor:       1,
	UpvoteMin:   1,
	DownvoteMin: 30,
	SubmitMin:   1,
	CommentMin:  1,
	UpWeights: []WeightStep{
		{MinKarma: 0, Weight: 1},
		{MinKarma: 100, Weight: 2},
		{MinKarma: 1000, Weight: 3},
	},
	DownWeights: []WeightStep{
		{MinKarma: 0, Weight: 1},
		{MinKarma: 500, Weight: 2},
	},
}

// Validate 检查阶梯是否单调且门槛合理
func (p KarmaPolicy) Validate() error {
	if p.DownvoteMin < p.UpvoteMin {
		return fmt.Errorf("downvote_min (%d) must not be lower than upvote_min (%d)", p.DownvoteMin, p.UpvoteMin)
	}
	if p.Initial < p.Floor {
		return fmt.Errorf("initial karma (%d) is below the floor (%d)", p.Initial, p.Floor)
	}
	for name, steps := range map[string][]WeightStep{"up_weights": p.UpWeights, "down_weights": p.DownWeights} {
		if len(steps) == 0 {
			return fmt.Errorf("%s must have at least one step", name)
		}
		sorted := sort.SliceIsSorted(steps, func(i, j int) bool { return steps[i].MinKarma < steps[j].MinKarma })
		if !sorted {
			return fmt.Errorf("%s must be ordered by min_karma", name)
		}
		for i, s := range steps {
			if s.Weight < 1 {
				return fmt.Errorf("%s[%d]: weight must be positive", name, i)
			}
			if i > 0 && s.Weight < steps[i-1].Weight {
				return fmt.Errorf("%s[%d]: weights must be non-decreasing", name, i)
			}
		}
	}
	return nil
}

// CanVote 根据积分判断能否按该方向投票
func (p KarmaPolicy) CanVote(karma int, d Direction) bool {
	switch d {
	case Up:
		return karma >= p.UpvoteMin
	case Down:
		return karma >= p.DownvoteMin
	}
	return false
}

func (p KarmaPolicy) CanPost(karma int) bool {
	return karma >= p.SubmitMin
}

func (p KarmaPolicy) CanComment(karma int) bool {
	return karma >= p.CommentMin
}

// WeightFor 返回阶梯权重，超过最后一级按最后一级封顶；不能投票时为 0
func (p KarmaPolicy) WeightFor(karma int, d Direction) int {
	if !p.CanVote(karma, d) {
		return 0
	}
	steps := p.UpWeights
	if d == Down {
		steps = p.DownWeights
	}
	weight := 0
	for _, s := range steps {
		if karma < s.MinKarma {
			break
		}
		weight = s.Weight
	}
	return weight
}

// ClampKarma 保证积分不低于下限
func (p KarmaPolicy) ClampKarma(karma int) int {
	if karma < p.Floor {
		return p.Floor
	}
	return karma
}
