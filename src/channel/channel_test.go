package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWithWildcard(t *testing.T) {
	info, err := Parse("room.42")
	require.NoError(t, err)

	assert.Equal(t, "room.42", info.Name)
	assert.Equal(t, "room", info.Family)
	assert.Equal(t, "ws:channel:room", info.ListenerKey)
	assert.Equal(t, "42", info.Wildcard)
	assert.True(t, info.HasWildcard)
	assert.Equal(t, "room.*", info.Pattern())
}

func TestParseWithoutWildcard(t *testing.T) {
	info, err := Parse("announcements")
	require.NoError(t, err)

	assert.Equal(t, "announcements", info.Name)
	assert.Equal(t, "ws:channel:announcements", info.ListenerKey)
	assert.False(t, info.HasWildcard)
	assert.Empty(t, info.Wildcard)
	assert.Equal(t, "announcements", info.Pattern())
}

func TestParsePlaceholderCapturesNothing(t *testing.T) {
	info, err := Parse("room.*")
	require.NoError(t, err)

	assert.Equal(t, "room", info.Family)
	assert.False(t, info.HasWildcard)
	assert.Equal(t, "room.*", info.Pattern())
}

func TestParseDottedValue(t *testing.T) {
	info, err := Parse("files.docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", info.Wildcard)
}

func TestParseTrimsWhitespace(t *testing.T) {
	info, err := Parse("  room.7 \n")
	require.NoError(t, err)
	assert.Equal(t, "room.7", info.Name)
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "   ", ".42", "room.", "ro om.1", "room.4 2", "röom.1", "room/1"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidChannelName))
		})
	}
}

func TestParseIsIdempotent(t *testing.T) {
	for _, input := range []string{"room.42", " room.42 ", "user:presence", "team-1.board.7", "room.*"} {
		first, err := Parse(input)
		require.NoError(t, err)

		again, err := Parse(first.Name)
		require.NoError(t, err)
		assert.Equal(t, first, again)

		repeat, err := Parse(input)
		require.NoError(t, err)
		assert.Equal(t, first, repeat)
	}
}

func TestEventKey(t *testing.T) {
	assert.Equal(t, "ws:listener:typing", EventKey("typing"))
}
