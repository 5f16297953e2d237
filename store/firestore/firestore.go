// Package firestore stores room fields in Cloud Firestore and pushes
// changes through document snapshot listeners.
//
// Layout: {collection}/{room}/fields/{field}, each document holding the
// field's JSON as a string so records round-trip byte for byte.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/Seednode/santabox/store"
)

const (
	defaultCollection  = "rooms"
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
	fieldsCollection   = "fields"
)

// Config selects the project and, optionally, a local emulator.
type Config struct {
	ProjectID    string
	EmulatorHost string
	Collection   string
}

type Store struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger

	mu      sync.Mutex
	cancels map[*int]context.CancelFunc
	closed  bool
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Subscriber = (*Store)(nil)
)

// Option customises the Store.
type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open dials Firestore using cfg. Extra client options are appended after
// the emulator options.
func Open(ctx context.Context, cfg Config, clientOpts []option.ClientOption, opts ...Option) (*Store, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	var dialOpts []option.ClientOption
	if host := emulatorHost(cfg); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		dialOpts = append(dialOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	dialOpts = append(dialOpts, clientOpts...)

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	client, err := firestore.NewClient(dialCtx, projectID, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}

	return New(client, cfg.Collection, opts...), nil
}

// New wraps an existing client.
func New(client *firestore.Client, collection string, opts ...Option) *Store {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultCollection
	}

	s := &Store{
		client:     client,
		collection: collection,
		logger:     zap.NewNop(),
		cancels:    make(map[*int]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

type fieldDocument struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt,serverTimestamp"`
}

func (s *Store) doc(key store.Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.Room).Collection(fieldsCollection).Doc(string(key.Field))
}

func (s *Store) Read(ctx context.Context, key store.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("firestore.read "+key.Path(), err)
	}

	return decode(snap)
}

func (s *Store) Write(ctx context.Context, key store.Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}

	_, err := s.doc(key).Set(ctx, fieldDocument{Value: string(value)})
	if err != nil {
		return wrapError("firestore.write "+key.Path(), err)
	}

	return nil
}

// Subscribe attaches a snapshot listener to the field document. The first
// snapshot carries the current value.
func (s *Store) Subscribe(ctx context.Context, key store.Key, onChange func([]byte)) (func(), error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	listenCtx, cancel := context.WithCancel(ctx)
	token := new(int)
	s.cancels[token] = cancel
	s.mu.Unlock()

	iter := s.doc(key).Snapshots(listenCtx)

	go func() {
		defer iter.Stop()

		for {
			snap, err := iter.Next()
			if err != nil {
				if listenCtx.Err() == nil && status.Code(err) != codes.Canceled {
					s.logger.Warn("snapshot listener stopped",
						zap.String("key", key.Path()),
						zap.Error(err))
				}
				return
			}

			if !snap.Exists() {
				onChange(nil)
				continue
			}

			value, err := decode(snap)
			if err != nil {
				s.logger.Warn("undecodable snapshot", zap.String("key", key.Path()), zap.Error(err))
				continue
			}
			onChange(value)
		}
	}()

	return func() {
		s.mu.Lock()
		delete(s.cancels, token)
		s.mu.Unlock()
		cancel()
	}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for token, cancel := range s.cancels {
		cancel()
		delete(s.cancels, token)
	}
	s.mu.Unlock()

	return s.client.Close()
}

func decode(snap *firestore.DocumentSnapshot) ([]byte, error) {
	var doc fieldDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return []byte(doc.Value), nil
}

func emulatorHost(cfg Config) string {
	if trimmed := strings.TrimSpace(cfg.EmulatorHost); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
