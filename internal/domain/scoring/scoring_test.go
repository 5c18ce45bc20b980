package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelOf(t *testing.T) {
	tests := []struct {
		score int
		want  int
	}{
		{0, 1},
		{-10, 1},
		{25, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{899, 3},
		{900, 4},
		{10000, 11},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelOf(tt.score), "score %d", tt.score)
	}
}

func TestLevelOf_MatchesFormula(t *testing.T) {
	for s := 0; s <= 20000; s += 7 {
		want := int(math.Floor(math.Sqrt(float64(s)/100))) + 1
		got := LevelOf(s)
		assert.Equal(t, want, got, "score %d", s)
		assert.GreaterOrEqual(t, got, 1)
	}
}

func TestScoreToNextLevel(t *testing.T) {
	assert.Equal(t, 100, ScoreToNextLevel(0))
	assert.Equal(t, 75, ScoreToNextLevel(25))
	assert.Equal(t, 300, ScoreToNextLevel(100))
	assert.Equal(t, 1, ScoreToNextLevel(399))

	for s := 0; s <= 5000; s += 13 {
		assert.Greater(t, ScoreToNextLevel(s), 0, "score %d", s)
	}
}

func TestTaskReward(t *testing.T) {
	assert.Equal(t, 15, TaskReward(1))
	assert.Equal(t, 20, TaskReward(2))
	assert.Equal(t, 25, TaskReward(3))

	for p := 1; p <= 3; p++ {
		assert.Equal(t, 10+5*p, TaskReward(p))
	}

	assert.Equal(t, BaseTaskReward, TaskReward(9))
}

func TestIsActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, IsActive(now.Add(-time.Hour), now))
	assert.False(t, IsActive(now.Add(-25*time.Hour), now))
	assert.False(t, IsActive(time.Time{}, now))
}
