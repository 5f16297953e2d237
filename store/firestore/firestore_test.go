package firestore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/santabox/store"
)

// openEmulator connects to the emulator named by FIRESTORE_EMULATOR_HOST,
// skipping the test when none is configured.
func openEmulator(t *testing.T) *Store {
	t.Helper()

	host := os.Getenv(envEmulatorHost)
	if host == "" {
		t.Skip(envEmulatorHost + " not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	st, err := Open(ctx, Config{
		ProjectID:    "santabox-test",
		EmulatorHost: host,
		Collection:   "rooms-" + ulid.Make().String(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func TestFirestoreReadWrite(t *testing.T) {
	st := openEmulator(t)
	ctx := context.Background()
	key := store.Key{Room: "abc", Field: store.FieldWishlists}

	value, err := st.Read(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, st.Write(ctx, key, []byte(`[{"name":"Amy","items":["socks"]}]`)))

	value, err = st.Read(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Amy","items":["socks"]}]`, string(value))
}

func TestFirestoreSubscribe(t *testing.T) {
	st := openEmulator(t)
	ctx := context.Background()
	key := store.Key{Room: "abc", Field: store.FieldHost}

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

	require.NoError(t, st.Write(ctx, key, []byte(`"dev-a"`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == `"dev-a"`
	}, 10*time.Second, 50*time.Millisecond)
}
