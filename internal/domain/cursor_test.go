package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorToken(t *testing.T) {
	token := EncodeCursor(Cursor("/library/reservations/b-17"))
	assert.Regexp(t, "^[0-9a-f]+$", token)

	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, Cursor("/library/reservations/b-17"), got)

	assert.Empty(t, EncodeCursor(nil))

	got, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, bad := range []string{"zz", "abc", "not-hex"} {
		_, err := DecodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
