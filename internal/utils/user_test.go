package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("up")
	require.NoError(t, err)
	assert.Equal(t, Up, d)

	d, err = ParseDirection("down")
	require.NoError(t, err)
	assert.Equal(t, Down, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
	assert.False(t, Direction(0).Valid())
}

func TestKarmaPolicyWeightFor(t *testing.T) {
	p := DefaultKarmaPolicy

	tests := []struct {
		karma int
		dir   Direction
		want  int
	}{
		{0, Up, 0},
		{1, Up, 1},
		{99, Up, 1},
		{100, Up, 2},
		{999, Up, 2},
		{1000, Up, 3},
		{1_000_000, Up, 3},
		{29, Down, 0},
		{30, Down, 1},
		{499, Down, 1},
		{500, Down, 2},
		{90_000, Down, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.WeightFor(tt.karma, tt.dir), "karma=%d dir=%s", tt.karma, tt.dir)
	}
}

func TestKarmaPolicyWeightIsMonotone(t *testing.T) {
	p := DefaultKarmaPolicy
	for _, d := range []Direction{Up, Down} {
		prev := 0
		for k := -10; k < 3000; k++ {
			w := p.WeightFor(k, d)
			assert.GreaterOrEqual(t, w, prev)
			prev = w
		}
	}
}

func TestKarmaPolicyThresholds(t *testing.T) {
	p := DefaultKarmaPolicy
	assert.True(t, p.CanVote(1, Up))
	assert.False(t, p.CanVote(1, Down))
	assert.True(t, p.CanVote(30, Down))
	assert.False(t, p.CanPost(0))
	assert.True(t, p.CanComment(1))
	assert.Equal(t, 1, p.ClampKarma(-50))
	assert.Equal(t, 7, p.ClampKarma(7))
}

func TestKarmaPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultKarmaPolicy.Validate())

	bad := DefaultKarmaPolicy
	bad.DownvoteMin = 0
	assert.Error(t, bad.Validate())

	bad = DefaultKarmaPolicy
	bad.UpWeights = []WeightStep{{MinKarma: 10, Weight: 2}, {MinKarma: 0, Weight: 1}}
	assert.Error(t, bad.Validate())

	bad = DefaultKarmaPolicy
	bad.DownWeights = []WeightStep{{MinKarma: 0, Weight: 3}, {MinKarma: 10, Weight: 1}}
	assert.Error(t, bad.Validate())

	bad = DefaultKarmaPolicy
	bad.UpWeights = nil
	assert.Error(t, bad.Validate())
}
