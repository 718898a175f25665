package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifyinbox/unifyinbox/pkg/models"
)

func TestFeedFilterUnfiltered(t *testing.T) {
	assert.True(t, FeedFilter{}.Unfiltered())

	platform := models.PlatformSlack
	assert.False(t, FeedFilter{Platform: &platform}.Unfiltered())

	label := models.LabelUrgent
	assert.False(t, FeedFilter{Label: &label}.Unfiltered())
}

func TestNotFoundMapping(t *testing.T) {
	assert.ErrorIs(t, notFound(sql.ErrNoRows), ErrNotFound)

	other := errors.New("connection refused")
	assert.Equal(t, other, notFound(other))
}

func TestSqlxIn(t *testing.T) {
	query, args, err := sqlxIn(`UPDATE messages SET snoozed_until = NULL WHERE id IN (?)`,
		[]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Contains(t, query, "IN (?, ?, ?)")
	assert.Len(t, args, 3)
}
