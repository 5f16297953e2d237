// Package postgres stores room fields in PostgreSQL and turns
// LISTEN/NOTIFY into change subscriptions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Seednode/santabox/store"
)

const (
	channel = "santabox_room_field"

	schema = `
CREATE TABLE IF NOT EXISTS room_field (
    room       TEXT NOT NULL,
    field      TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (room, field)
);
`
	retryDelay    = 2 * time.Second
	listenTimeout = 10 * time.Second
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[store.Key]map[*subscriber]struct{}
	stop   context.CancelFunc
	closed bool
	wg     sync.WaitGroup

	// listening is closed once the first LISTEN succeeds.
	listening     chan struct{}
	listeningOnce sync.Once
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Subscriber = (*Store)(nil)
)

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type subscriber struct {
	ctx      context.Context
	onChange func([]byte)
}

type notification struct {
	Room  string `json:"room"`
	Field string `json:"field"`
}

// Connect opens a pool for dsn and makes sure the schema exists.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pgxpool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	s := &Store{
		pool:   pool,
		logger: zap.NewNop(),
		subs:   make(map[store.Key]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// Ready pings the database.
func (s *Store) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

func (s *Store) Read(ctx context.Context, key store.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM room_field WHERE room = $1 AND field = $2
	`, key.Room, string(key.Field)).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", key, err)
	}

	return []byte(value), nil
}

// Write upserts the value and notifies listeners in the same transaction,
// so the notification is only delivered once the value is visible.
func (s *Store) Write(ctx context.Context, key store.Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(notification{Room: key.Room, Field: string(key.Field)})
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_field (room, field, value, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (room, field) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at
		`, key.Room, string(key.Field), string(value)); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, string(payload))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: write %s: %w", key, err)
	}

	return nil
}

// Subscribe delivers the current value, then re-reads and delivers the
// field every time a notification for it arrives.
func (s *Store) Subscribe(ctx context.Context, key store.Key, onChange func([]byte)) (func(), error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.ensureListenerLocked()
	listening := s.listening

	sub := &subscriber{ctx: ctx, onChange: onChange}
	if s.subs[key] == nil {
		s.subs[key] = make(map[*subscriber]struct{})
	}
	s.subs[key][sub] = struct{}{}
	s.mu.Unlock()

	// Writes made before LISTEN is active would never be announced.
	select {
	case <-listening:
	case <-ctx.Done():
		s.unsubscribe(key, sub)
		return nil, ctx.Err()
	case <-time.After(listenTimeout):
		s.unsubscribe(key, sub)
		return nil, errors.New("postgres: timed out waiting for notification listener")
	}

	current, err := s.Read(ctx, key)
	if err != nil {
		s.unsubscribe(key, sub)
		return nil, err
	}
	onChange(current)

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(key, sub) })
	}, nil
}

func (s *Store) unsubscribe(key store.Key, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs[key], sub)
	if len(s.subs[key]) == 0 {
		delete(s.subs, key)
	}
}

func (s *Store) ensureListenerLocked() {
	if s.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.listening = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.listen(ctx)
	}()
}

// listen holds one pooled connection in LISTEN mode and reconnects after
// failures until the store is closed.
func (s *Store) listen(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("notification listener failed, retrying",
			zap.Duration("delay", retryDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listeningOnce.Do(func() { close(s.listening) })

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}

		var note notification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
			s.logger.Warn("malformed notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}

		s.dispatch(ctx, store.Key{Room: note.Room, Field: store.Field(note.Field)})
	}
}

func (s *Store) dispatch(ctx context.Context, key store.Key) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[key]))
	for sub := range s.subs[key] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	value, err := s.Read(ctx, key)
	if err != nil {
		s.logger.Warn("re-read after notification failed", zap.String("key", key.Path()), zap.Error(err))
		return
	}

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		sub.onChange(value)
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stop
	s.subs = make(map[store.Key]map[*subscriber]struct{})
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.wg.Wait()
	s.pool.Close()

	return nil
}
