// Package scoring holds the gamification rules: levels and rewards.
// Everything here is a pure function of its inputs.
package scoring

import (
	"math"
	"time"
)

const (
	// BaseTaskReward is granted for every completed task.
	BaseTaskReward = 10

	// FirstCourseBonus is granted once, when a user creates their first course.
	FirstCourseBonus = 5

	// PointsPerLevelUnit scales the level curve: level n starts at (n-1)^2 * 100.
	PointsPerLevelUnit = 100

	// ActiveWindow is how recently a user must have acted to count as active.
	ActiveWindow = 24 * time.Hour
)

// priorityBonus is the bonus table indexed by task priority.
var priorityBonus = map[int]int{
	1: 5,
	2: 10,
	3: 15,
}

// PriorityBonus returns the extra points for a task of the given priority.
// Unknown priorities get no bonus.
func PriorityBonus(priority int) int {
	return priorityBonus[priority]
}

// TaskReward returns the total points for completing a task of the given priority.
func TaskReward(priority int) int {
	return BaseTaskReward + PriorityBonus(priority)
}

// LevelOf returns floor(sqrt(score/100)) + 1. The result is never below 1.
func LevelOf(score int) int {
	if score <= 0 {
		return 1
	}
	return int(math.Sqrt(float64(score)/PointsPerLevelUnit)) + 1
}

// LevelThreshold returns the score at which the given level ends.
func LevelThreshold(level int) int {
	return level * level * PointsPerLevelUnit
}

// ScoreToNextLevel returns how many points are missing to reach the next level.
func ScoreToNextLevel(score int) int {
	missing := LevelThreshold(LevelOf(score)) - score
	if missing < 0 {
		return 0
	}
	return missing
}

// IsActive reports whether lastActive falls inside ActiveWindow before now.
func IsActive(lastActive, now time.Time) bool {
	if lastActive.IsZero() {
		return false
	}
	return now.Sub(lastActive) < ActiveWindow
}
