// Package user contains the domain model of a chat participant and their
// gamified progress.
package user

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/educativo/edubot/internal/domain/scoring"
	"github.com/educativo/edubot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: USER
// ══════════════════════════════════════════════════════════════════════════════

// User is a participant identified by the external actor id.
// Users are created lazily on first interaction with score 0.
type User struct {
	// ID is the external actor id of the messaging platform.
	ID string `json:"id"`

	// DisplayName is assigned on creation, "Usuario<n>".
	DisplayName string `json:"display_name"`

	// Score is never negative.
	Score int `json:"score"`

	// ScoreByCourse accumulates the points earned per course code.
	ScoreByCourse map[string]int `json:"score_by_course"`

	// FavoriteCourse is derived from ScoreByCourse.
	FavoriteCourse string `json:"favorite_course"`

	LastActiveAt time.Time `json:"last_active_at"`
	JoinedAt     time.Time `json:"joined_at"`
	IsModerator  bool      `json:"is_moderator"`
}

// DisplayNameFor returns the default display name for the n-th user.
func DisplayNameFor(n int) string {
	return fmt.Sprintf("Usuario%d", n)
}

// New creates a user with score 0.
func New(id, displayName string, isModerator bool, now time.Time) *User {
	return &User{
		ID:             id,
		DisplayName:    displayName,
		ScoreByCourse:  make(map[string]int),
		FavoriteCourse: shared.GeneralCourse,
		LastActiveAt:   now,
		JoinedAt:       now,
		IsModerator:    isModerator,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED STATE
// ══════════════════════════════════════════════════════════════════════════════

// Level returns the level derived from Score.
func (u *User) Level() int {
	return scoring.LevelOf(u.Score)
}

// ScoreToNextLevel returns the points missing to reach the next level.
func (u *User) ScoreToNextLevel() int {
	return scoring.ScoreToNextLevel(u.Score)
}

// IsActive reports whether the user acted within the active window.
func (u *User) IsActive(now time.Time) bool {
	return scoring.IsActive(u.LastActiveAt, now)
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// Touch records activity.
func (u *User) Touch(now time.Time) {
	u.LastActiveAt = now
}

// AddScore grants points earned under a course code.
// An empty course code counts towards the general bucket.
func (u *User) AddScore(amount int, courseCode string, now time.Time) error {
	if amount < 0 {
		return shared.ErrNegativeScore
	}

	code := strings.TrimSpace(courseCode)
	if shared.IsGeneralCourse(code) {
		code = shared.GeneralCourse
	}

	if u.ScoreByCourse == nil {
		u.ScoreByCourse = make(map[string]int)
	}
	u.Score += amount
	u.ScoreByCourse[code] += amount
	u.FavoriteCourse = favoriteOf(u.ScoreByCourse)
	u.LastActiveAt = now
	return nil
}

// Deduct removes points. The score never goes below zero.
// Per-course totals are left as earned.
func (u *User) Deduct(amount int, now time.Time) error {
	if amount < 0 {
		return shared.ErrNegativeScore
	}
	u.Score -= amount
	if u.Score < 0 {
		u.Score = 0
	}
	u.LastActiveAt = now
	return nil
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.ScoreByCourse = make(map[string]int, len(u.ScoreByCourse))
	for k, v := range u.ScoreByCourse {
		cp.ScoreByCourse[k] = v
	}
	return &cp
}

// favoriteOf picks the course with the most points, ties broken by the
// lowest code.
func favoriteOf(byCourse map[string]int) string {
	if len(byCourse) == 0 {
		return shared.GeneralCourse
	}

	codes := make([]string, 0, len(byCourse))
	for code := range byCourse {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	best := codes[0]
	for _, code := range codes[1:] {
		if byCourse[code] > byCourse[best] {
			best = code
		}
	}
	return best
}
