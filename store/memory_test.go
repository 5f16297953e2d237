package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k := Key{Room: "abc", Field: FieldHost}
	assert.Equal(t, "rooms/abc/host", k.Path())
	assert.NoError(t, k.Validate())

	assert.ErrorIs(t, Key{Field: FieldHost}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Room: "abc", Field: "nope"}.Validate(), ErrInvalidKey)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := Key{Room: "abc", Field: FieldWishlists}

	value, err := m.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value, "unset keys read as nil")

	in := []byte(`[]`)
	require.NoError(t, m.Write(ctx, key, in))
	in[0] = 'x'

	value, err = m.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value, "writes are copied")

	assert.False(t, Realtime(m))

	require.NoError(t, m.Close())
	_, err = m.Read(ctx, key)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Write(ctx, key, nil), ErrClosed)
}

func TestMemoryRejectsBadKeys(t *testing.T) {
	m := NewMemory()

	_, err := m.Read(context.Background(), Key{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}
