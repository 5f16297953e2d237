package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/santabox/store"
)

const envTestURL = "SANTABOX_TEST_POSTGRES_URL"

func connectTest(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv(envTestURL)
	if dsn == "" {
		t.Skip(envTestURL + " not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Ready(ctx))

	return st
}

func testKey(field store.Field) store.Key {
	return store.Key{Room: strings.ToLower(ulid.Make().String()), Field: field}
}

func TestPostgresReadWrite(t *testing.T) {
	st := connectTest(t)
	ctx := context.Background()
	key := testKey(store.FieldMatches)

	value, err := st.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, st.Write(ctx, key, []byte(`[{"giver":"Amy","receiver":"Bo"}]`)))
	require.NoError(t, st.Write(ctx, key, []byte(`[]`)))

	value, err = st.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(value))
}

func TestPostgresSubscribe(t *testing.T) {
	st := connectTest(t)
	ctx := context.Background()
	key := testKey(store.FieldHost)

	var (
		mu   sync.Mutex
		seen []string
	)
	cancel, err := st.Subscribe(ctx, key, func(value []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(value))
	})
	require.NoError(t, err)
	defer cancel()

	mu.Lock()
	assert.Equal(t, []string{""}, seen, "current value is delivered first")
	mu.Unlock()

	require.NoError(t, st.Write(ctx, key, []byte(`"dev-a"`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 1 && seen[len(seen)-1] == `"dev-a"`
	}, 10*time.Second, 50*time.Millisecond)
}

func TestPostgresRejectsBadKeys(t *testing.T) {
	st := connectTest(t)

	_, err := st.Read(context.Background(), store.Key{Room: "abc"})
	assert.ErrorIs(t, err, store.ErrInvalidKey)
}
