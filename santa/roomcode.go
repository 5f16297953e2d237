package santa

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	roomCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	roomCodeLength   = 7
	minRoomCodeLen   = 3
	maxRoomCodeLen   = 64
)

// NewRoomCode returns a short random code for a new room. Collisions are
// unlikely but not impossible; callers that track live rooms should check.
func NewRoomCode() string {
	var b strings.Builder
	b.Grow(roomCodeLength)
	for range roomCodeLength {
		b.WriteByte(roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))])
	}
	return b.String()
}

// NormalizeRoomCode turns a user-typed code into the form used in storage
// keys.
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))

	if len(code) < minRoomCodeLen {
		return "", fmt.Errorf("%w: must be at least %d characters", ErrInvalidRoom, minRoomCodeLen)
	}
	if len(code) > maxRoomCodeLen {
		return "", fmt.Errorf("%w: must be at most %d characters", ErrInvalidRoom, maxRoomCodeLen)
	}

	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidRoom, r)
		}
	}

	return code, nil
}
