package santa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Seednode/santabox/store"
)

const (
	writeQueueSize = 64

	// echoWait bounds how long pushed values are held back while a
	// local write has not been seen coming back from the backend.
	echoWait = 5 * time.Second
)

// Mode describes how a room learns about other devices' writes.
type Mode int

const (
	// ModeLocal backends never push; other writers are only seen on Refresh.
	ModeLocal Mode = iota
	// ModeRealtime backends push every change to every subscriber.
	ModeRealtime
)

func (m Mode) String() string {
	if m == ModeRealtime {
		return "real-time sync"
	}
	return "local only"
}

// Room is the connection to one room's shared state. It caches the three
// room fields, keeps them current through backend subscriptions when the
// backend offers them, and serialises this process's writes through a
// single fire-and-forget queue. One Room is shared by every device session
// in the process.
type Room struct {
	code   string
	st     store.Store
	mode   Mode
	logger *zap.Logger
	rng    Source

	mu        sync.RWMutex
	wishlists []Submission
	matches   []Match
	host      string
	raw       map[store.Field][]byte
	closed    bool

	// syncMu guards fields. It may be taken while holding mu, never the
	// other way around.
	syncMu sync.Mutex
	fields map[store.Field]*fieldSync

	listenMu     sync.Mutex
	listeners    map[int]func(store.Field)
	nextListener int

	ctx        context.Context
	cancel     context.CancelFunc
	unsubs     []func()
	writes     chan writeOp
	writerDone chan struct{}
	closeOnce  sync.Once
}

// fieldSync tracks this process's writes to one field that the backend
// has not caught up with yet. Until it has, values read or pushed from the
// backend are older than the cache and must not replace it.
type fieldSync struct {
	// pending counts queued writes the writer has not finished.
	pending int
	// echo is the last value written locally that has not yet come back
	// through the subscription. Only used in ModeRealtime.
	echo []byte
	// held is the newest push ignored while waiting for echo.
	held []byte
}

type writeOp struct {
	key     store.Key
	value   []byte
	flushed chan struct{}
}

// RoomOption customises a Room.
type RoomOption func(*Room)

func WithLogger(logger *zap.Logger) RoomOption {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSource overrides the randomness used for derangements.
func WithSource(rng Source) RoomOption {
	return func(r *Room) {
		r.rng = rng
	}
}

// OpenRoom loads the room's current state from st and, when st is a
// store.Subscriber, subscribes to every field. Stored values that fail
// validation are reported as *MalformedRecordError.
func OpenRoom(ctx context.Context, code string, st store.Store, opts ...RoomOption) (*Room, error) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}

	roomCtx, cancel := context.WithCancel(context.Background())

	r := &Room{
		code:       code,
		st:         st,
		mode:       ModeLocal,
		logger:     zap.NewNop(),
		wishlists:  []Submission{},
		matches:    []Match{},
		raw:        make(map[store.Field][]byte),
		fields:     make(map[store.Field]*fieldSync),
		listeners:  make(map[int]func(store.Field)),
		ctx:        roomCtx,
		cancel:     cancel,
		writes:     make(chan writeOp, writeQueueSize),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With(zap.String("room", code))

	if err := r.Refresh(ctx); err != nil {
		cancel()
		return nil, err
	}

	go r.writer()

	if sub, ok := st.(store.Subscriber); ok {
		r.mode = ModeRealtime
		for _, field := range store.Fields {
			unsub, err := sub.Subscribe(roomCtx, r.key(field), func(value []byte) {
				r.apply(field, value)
			})
			if err != nil {
				_ = r.Close()
				return nil, fmt.Errorf("subscribe %s: %w", r.key(field), err)
			}

			r.mu.Lock()
			r.unsubs = append(r.unsubs, unsub)
			r.mu.Unlock()
		}
	}

	return r, nil
}

func (r *Room) key(field store.Field) store.Key {
	return store.Key{Room: r.code, Field: field}
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) Mode() Mode {
	return r.mode
}

// Refresh re-reads every field from the backend. It is the polling path
// for backends that do not push.
func (r *Room) Refresh(ctx context.Context) error {
	var errs []error

	for _, field := range store.Fields {
		value, err := r.st.Read(ctx, r.key(field))
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", r.key(field), err))
			continue
		}
		if err := r.load(field, value, false); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// apply is the subscription callback. Undecodable pushes are logged and
// the previous value is kept.
func (r *Room) apply(field store.Field, value []byte) {
	if err := r.load(field, value, true); err != nil {
		r.logger.Warn("ignoring malformed update",
			zap.String("field", string(field)),
			zap.Error(err))
	}
}

// load replaces the cached field with value unless the value is stale.
// A read is stale while a local write to the field is still queued. A push
// is stale while the last local write has not come back through the
// subscription, since pushes arrive in write order.
func (r *Room) load(field store.Field, value []byte, pushed bool) error {
	var (
		subs    []Submission
		matches []Match
		host    string
		err     error
	)

	switch field {
	case store.FieldWishlists:
		subs, err = DecodeSubmissions(value)
	case store.FieldMatches:
		matches, err = DecodeMatches(value)
	case store.FieldHost:
		host, err = DecodeHost(value)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stale(field, value, pushed) {
		r.mu.Unlock()
		return nil
	}
	if prev, seen := r.raw[field]; seen && bytes.Equal(prev, value) {
		r.mu.Unlock()
		return nil
	}
	r.raw[field] = value

	switch field {
	case store.FieldWishlists:
		r.wishlists = subs
	case store.FieldMatches:
		r.matches = matches
	case store.FieldHost:
		r.host = host
	}
	r.mu.Unlock()

	r.notify(field)

	return nil
}

func (r *Room) stale(field store.Field, value []byte, pushed bool) bool {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	fs := r.fields[field]
	if fs == nil {
		return false
	}

	if !pushed {
		return fs.pending > 0
	}

	if fs.echo == nil {
		return false
	}
	if bytes.Equal(fs.echo, value) {
		// Everything held so far was written before our own value.
		fs.echo = nil
		fs.held = nil
		return true
	}
	fs.held = value

	return true
}

func (r *Room) syncFor(field store.Field) *fieldSync {
	fs := r.fields[field]
	if fs == nil {
		fs = &fieldSync{}
		r.fields[field] = fs
	}
	return fs
}

// setLocked updates the cache optimistically and queues the write. r.mu
// must be held for writing.
func (r *Room) setLocked(field store.Field, value []byte) {
	r.raw[field] = value

	r.syncMu.Lock()
	fs := r.syncFor(field)
	fs.pending++
	if r.mode == ModeRealtime {
		fs.echo = value
		fs.held = nil
	}
	r.syncMu.Unlock()

	r.writes <- writeOp{key: r.key(field), value: value}
}

// written records that the writer is done with op. When the last queued
// write for a field failed, its echo will never arrive, so the newest held
// push is applied. After a successful write the echo is given echoWait to
// arrive before held pushes are let through anyway.
func (r *Room) written(op writeOp, err error) {
	field := op.key.Field

	r.syncMu.Lock()
	fs := r.syncFor(field)
	fs.pending--
	last := fs.pending == 0
	waiting := fs.echo != nil && bytes.Equal(fs.echo, op.value)
	r.syncMu.Unlock()

	if !last || !waiting {
		return
	}

	if err != nil {
		r.releaseEcho(field, op.value)
		return
	}

	time.AfterFunc(echoWait, func() {
		r.releaseEcho(field, op.value)
	})
}

// releaseEcho stops waiting for value to come back and applies the newest
// push held in the meantime.
func (r *Room) releaseEcho(field store.Field, value []byte) {
	r.syncMu.Lock()
	fs := r.syncFor(field)
	if fs.echo == nil || !bytes.Equal(fs.echo, value) {
		r.syncMu.Unlock()
		return
	}
	held := fs.held
	fs.echo = nil
	fs.held = nil
	r.syncMu.Unlock()

	if held == nil {
		return
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	r.apply(field, held)
}

func (r *Room) writer() {
	defer close(r.writerDone)

	for op := range r.writes {
		if op.flushed != nil {
			close(op.flushed)
			continue
		}

		err := r.st.Write(r.ctx, op.key, op.value)
		if err != nil {
			r.logger.Warn("write failed",
				zap.String("key", op.key.Path()),
				zap.Error(err))
		}
		r.written(op, err)
	}
}

// Flush waits until every write queued so far has been attempted.
func (r *Room) Flush(ctx context.Context) error {
	done := make(chan struct{})

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrSessionClosed
	}
	r.writes <- writeOp{flushed: done}
	r.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange registers fn to run after any field changes, whether by a local
// write or a pushed update. fn runs on the goroutine that made the change
// and must not block.
func (r *Room) OnChange(fn func(store.Field)) (cancel func()) {
	r.listenMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = fn
	r.listenMu.Unlock()

	return func() {
		r.listenMu.Lock()
		delete(r.listeners, id)
		r.listenMu.Unlock()
	}
}

func (r *Room) notify(field store.Field) {
	r.listenMu.Lock()
	fns := make([]func(store.Field), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.listenMu.Unlock()

	for _, fn := range fns {
		fn(field)
	}
}

// Wishlists returns a copy of the cached submissions.
func (r *Room) Wishlists() []Submission {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneSubmissions(r.wishlists)
}

// MatchesReady reports whether a match set exists without revealing it.
func (r *Room) MatchesReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.matches) > 0
}

// Host returns the cached host designation.
func (r *Room) Host() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.host
}

// Join binds a device to the room and, if nobody holds the host
// designation yet, claims it for that device.
func (r *Room) Join(ident *IdentityProvider) *RoomSession {
	s := &RoomSession{
		room:   r,
		ident:  ident,
		device: ident.DeviceIdentity(),
	}
	s.ClaimHost()
	return s
}

// claimHost writes device as host when the cached designation is empty.
// Two processes can both see it empty and both write; the last write that
// every reader observes wins and the loser's IsHost turns false once the
// winner's write reaches it.
func (r *Room) claimHost(device string) bool {
	if device == "" {
		return false
	}

	r.mu.Lock()
	if r.closed || r.host != "" {
		r.mu.Unlock()
		return false
	}

	value, err := EncodeHost(device)
	if err != nil {
		r.mu.Unlock()
		return false
	}
	r.host = device
	r.setLocked(store.FieldHost, value)
	r.mu.Unlock()

	r.logger.Info("host claimed", zap.String("device", device))
	r.notify(store.FieldHost)

	return true
}

// Close cancels subscriptions, drains queued writes, and stops the writer.
// The backend itself is left open.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		unsubs := r.unsubs
		r.unsubs = nil
		close(r.writes)
		r.mu.Unlock()

		for _, unsub := range unsubs {
			unsub()
		}

		<-r.writerDone
		r.cancel()
	})

	return nil
}

func cloneSubmissions(subs []Submission) []Submission {
	out := make([]Submission, len(subs))
	for i, s := range subs {
		s.Items = append([]string(nil), s.Items...)
		out[i] = s
	}
	return out
}
