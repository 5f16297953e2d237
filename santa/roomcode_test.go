package santa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		code := NewRoomCode()
		assert.Len(t, code, 7)

		normalized, err := NormalizeRoomCode(code)
		require.NoError(t, err)
		assert.Equal(t, code, normalized)

		seen[code] = true
	}
	assert.Greater(t, len(seen), 90)
}

func TestNormalizeRoomCode(t *testing.T) {
	code, err := NormalizeRoomCode("  Office-Party_2026 ")
	require.NoError(t, err)
	assert.Equal(t, "office-party_2026", code)

	for _, bad := range []string{"", "ab", "a/b/c", "room code", "ünï"} {
		_, err := NormalizeRoomCode(bad)
		assert.ErrorIs(t, err, ErrInvalidRoom, bad)
		assert.Equal(t, KindValidation, KindOf(err))
	}
}
