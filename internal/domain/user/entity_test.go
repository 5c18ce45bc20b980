package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educativo/edubot/internal/domain/shared"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	u := New("42", DisplayNameFor(1), false, now)

	assert.Equal(t, "Usuario1", u.DisplayName)
	assert.Equal(t, 0, u.Score)
	assert.Equal(t, 1, u.Level())
	assert.Equal(t, shared.GeneralCourse, u.FavoriteCourse)
	assert.True(t, u.IsActive(now))
}

func TestAddScore(t *testing.T) {
	u := New("42", "Usuario1", false, now)

	require.NoError(t, u.AddScore(25, "MAT101", now))
	assert.Equal(t, 25, u.Score)
	assert.Equal(t, "MAT101", u.FavoriteCourse)

	require.NoError(t, u.AddScore(30, "", now))
	assert.Equal(t, 30, u.ScoreByCourse[shared.GeneralCourse])
	assert.Equal(t, shared.GeneralCourse, u.FavoriteCourse)

	require.NoError(t, u.AddScore(50, "FIS", now))
	assert.Equal(t, 105, u.Score)
	assert.Equal(t, 2, u.Level())
	assert.Equal(t, "FIS", u.FavoriteCourse)

	err := u.AddScore(-1, "FIS", now)
	assert.ErrorIs(t, err, shared.ErrNegativeScore)
	assert.Equal(t, 105, u.Score)
}

func TestFavoriteCourse_TieBreaksOnLowestCode(t *testing.T) {
	u := New("42", "Usuario1", false, now)

	require.NoError(t, u.AddScore(20, "QUI", now))
	require.NoError(t, u.AddScore(20, "BIO", now))
	assert.Equal(t, "BIO", u.FavoriteCourse)
}

func TestDeduct_ClampsAtZero(t *testing.T) {
	u := New("42", "Usuario1", false, now)
	require.NoError(t, u.AddScore(15, "", now))

	require.NoError(t, u.Deduct(10, now))
	assert.Equal(t, 5, u.Score)

	require.NoError(t, u.Deduct(100, now))
	assert.Equal(t, 0, u.Score)

	assert.ErrorIs(t, u.Deduct(-3, now), shared.ErrNegativeScore)
}

func TestIsActive(t *testing.T) {
	u := New("42", "Usuario1", false, now)
	assert.False(t, u.IsActive(now.Add(25*time.Hour)))

	u.Touch(now.Add(24 * time.Hour))
	assert.True(t, u.IsActive(now.Add(25*time.Hour)))
}

func TestClone_DeepCopiesScores(t *testing.T) {
	u := New("42", "Usuario1", false, now)
	require.NoError(t, u.AddScore(10, "MAT101", now))

	cp := u.Clone()
	cp.ScoreByCourse["MAT101"] = 999
	assert.Equal(t, 10, u.ScoreByCourse["MAT101"])
}
