package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/santabox/store"
)

type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) record(value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if value == nil {
		r.values = append(r.values, "<nil>")
		return
	}
	r.values = append(r.values, string(value))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.values...)
}

var key = store.Key{Room: "abc", Field: store.FieldHost}

func TestBrokerDeliversCurrentThenWrites(t *testing.T) {
	ctx := context.Background()
	b := New()
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Write(ctx, key, []byte(`"a"`)))

	var first, second recorder
	cancel1, err := b.Subscribe(ctx, key, first.record)
	require.NoError(t, err)
	defer cancel1()
	cancel2, err := b.Subscribe(ctx, key, second.record)
	require.NoError(t, err)
	defer cancel2()

	for _, v := range []string{`"b"`, `"c"`, `"d"`} {
		require.NoError(t, b.Write(ctx, key, []byte(v)))
	}

	want := []string{`"a"`, `"b"`, `"c"`, `"d"`}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, first.snapshot()) &&
			assert.ObjectsAreEqual(want, second.snapshot())
	}, time.Second, 5*time.Millisecond)
}

func TestBrokerUnsetKey(t *testing.T) {
	b := New()
	t.Cleanup(func() { _ = b.Close() })

	var rec recorder
	cancel, err := b.Subscribe(context.Background(), key, rec.record)
	require.NoError(t, err)
	defer cancel()

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"<nil>"}, rec.snapshot())
	}, time.Second, 5*time.Millisecond)
}

func TestBrokerCancel(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	b := New()
	t.Cleanup(func() { _ = b.Close() })

	var rec recorder
	_, err := b.Subscribe(ctx, key, rec.record)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	cancelCtx()
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs[key]) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Write(context.Background(), key, []byte(`"late"`)))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestBrokerClosed(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Read(context.Background(), key)
	assert.ErrorIs(t, err, store.ErrClosed)

	_, err = b.Subscribe(context.Background(), key, func([]byte) {})
	assert.ErrorIs(t, err, store.ErrClosed)

	assert.True(t, store.Realtime(b))
}
