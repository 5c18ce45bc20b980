package course

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educativo/edubot/internal/domain/shared"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	c, err := New(" mat101 ", "Cálculo I", "intro", "", "u1", now)
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "MAT101", c.Code)
	assert.Equal(t, "Cálculo I", c.Name)
	assert.Equal(t, DefaultInstructor, c.Instructor)
	assert.False(t, c.HasInstructor())
	assert.True(t, c.Active)
	assert.Equal(t, now, c.CreatedAt)
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", "Name", "", "", "u1", now)
	assert.ErrorIs(t, err, shared.ErrEmptyCourseCode)

	_, err = New("FIS", "   ", "", "", "u1", now)
	assert.ErrorIs(t, err, shared.ErrEmptyCourseName)
	assert.True(t, shared.IsValidation(err))

	_, err = New("general", "Otra", "", "", "u1", now)
	assert.ErrorIs(t, err, shared.ErrReservedCourseCode)
}

func TestArchiveLifecycle(t *testing.T) {
	c, err := New("MAT101", "Cálculo", "", "Dr. X", "owner", now)
	require.NoError(t, err)
	assert.True(t, c.HasInstructor())

	err = c.Archive("intruder")
	assert.ErrorIs(t, err, shared.ErrCourseNotOwner)
	assert.True(t, c.Active)

	require.NoError(t, c.Archive("owner"))
	assert.False(t, c.Active)
	assert.ErrorIs(t, c.Archive("owner"), shared.ErrCourseAlreadyArchived)

	assert.ErrorIs(t, c.Unarchive("intruder"), shared.ErrCourseNotOwner)
	require.NoError(t, c.Unarchive("owner"))
	assert.True(t, c.Active)
	assert.ErrorIs(t, c.Unarchive("owner"), shared.ErrCourseNotArchived)
}

func TestClone(t *testing.T) {
	c, err := New("MAT101", "Cálculo", "", "", "owner", now)
	require.NoError(t, err)

	cp := c.Clone()
	cp.Name = "changed"
	assert.Equal(t, "Cálculo", c.Name)
}
