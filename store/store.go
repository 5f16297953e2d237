/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store defines the key-value backend that room state is persisted
// to, plus a process-local implementation.
//
// Every room owns three top-level fields (wishlists, matches, host), each
// holding one JSON document. Backends only move bytes around; decoding and
// validation happen in package santa.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Field names one top-level value within a room.
type Field string

const (
	FieldWishlists Field = "wishlists"
	FieldMatches   Field = "matches"
	FieldHost      Field = "host"
)

// Fields lists every room field in a stable order.
var Fields = []Field{FieldWishlists, FieldMatches, FieldHost}

var (
	ErrClosed       = errors.New("store: closed")
	ErrInvalidKey   = errors.New("store: invalid key")
	ErrNotSupported = errors.New("store: operation not supported")
)

// Key addresses a single field of a single room.
type Key struct {
	Room  string
	Field Field
}

// Path renders the key the way realtime databases address it.
func (k Key) Path() string {
	return "rooms/" + k.Room + "/" + string(k.Field)
}

func (k Key) String() string {
	return k.Path()
}

// Validate reports whether the key can be stored by any backend.
func (k Key) Validate() error {
	if k.Room == "" {
		return fmt.Errorf("%w: empty room", ErrInvalidKey)
	}
	switch k.Field {
	case FieldWishlists, FieldMatches, FieldHost:
		return nil
	}
	return fmt.Errorf("%w: unknown field %q", ErrInvalidKey, k.Field)
}

// Store is the minimum every backend provides. Read returns a nil slice
// and a nil error when the key has never been written.
type Store interface {
	Read(ctx context.Context, key Key) ([]byte, error)
	Write(ctx context.Context, key Key, value []byte) error
	Close() error
}

// Subscriber is implemented by backends that push changes. onChange is
// invoked with the current value once the subscription is live and then
// at least once for every later write to key, including writes made by
// the subscriber itself. A nil value means the key is unset.
type Subscriber interface {
	Subscribe(ctx context.Context, key Key, onChange func(value []byte)) (cancel func(), err error)
}

// Realtime reports whether st delivers change notifications.
func Realtime(st Store) bool {
	_, ok := st.(Subscriber)
	return ok
}
