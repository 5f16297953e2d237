package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError("read", nil))
	assert.ErrorIs(t, wrapError("read", context.Canceled), context.Canceled)
	assert.ErrorIs(t, wrapError("read", status.Error(codes.DeadlineExceeded, "slow")), context.DeadlineExceeded)

	var fsErr *Error

	err := wrapError("write rooms/abc/host", status.Error(codes.Unavailable, "down"))
	assert.True(t, errors.As(err, &fsErr))
	assert.True(t, fsErr.IsUnavailable())
	assert.Contains(t, err.Error(), "write rooms/abc/host")

	err = wrapError("read", status.Error(codes.PermissionDenied, "nope"))
	assert.True(t, errors.As(err, &fsErr))
	assert.False(t, fsErr.IsUnavailable())
}

func TestEmulatorHost(t *testing.T) {
	t.Setenv(envEmulatorHost, "")
	assert.Empty(t, emulatorHost(Config{}))
	assert.Equal(t, "localhost:8080", emulatorHost(Config{EmulatorHost: " localhost:8080 "}))

	t.Setenv(envEmulatorHost, "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", emulatorHost(Config{}))
}

func TestOpenRequiresProject(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")

	_, err := Open(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
