package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/santabox/store"
)

func TestSQLiteRoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "santabox.db")

	st, err := Open(ctx, path)
	require.NoError(t, err)

	key := store.Key{Room: "abc", Field: store.FieldWishlists}

	value, err := st.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, st.Write(ctx, key, []byte(`[{"name":"Amy","items":["socks"]}]`)))
	require.NoError(t, st.Write(ctx, key, []byte(`[]`)))

	value, err = st.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(value))
	assert.False(t, store.Realtime(st))

	require.NoError(t, st.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	value, err = reopened.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(value), "values survive a restart")

	other, err := reopened.Read(ctx, store.Key{Room: "xyz", Field: store.FieldWishlists})
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLiteRejectsBadKeys(t *testing.T) {
	st, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	err = st.Write(context.Background(), store.Key{Room: "abc", Field: "nope"}, []byte(`1`))
	assert.ErrorIs(t, err, store.ErrInvalidKey)
}
