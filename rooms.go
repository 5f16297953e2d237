// Santabox rooms
//
// Each participant opens a room by its code, submits a wishlist, and once
// everyone is in, the host draws matches. Every browser only ever learns
// its own assignment.
//
// Features:
// - Room state lives in the configured backend; this process keeps one
//   santa.Room per active code and unloads it after --room-timeout idle
// - Browsers are identified by the santabox_id cookie (the device identity)
// - First device to see a room without a host becomes host; only the host
//   can delete wishlists or draw matches
// - WebSockets per room: /rooms/:room/ws pushes room_state and my_match on
//   every change, pushed by the backend or picked up by polling
// - Random 7-char room codes, with a collision check against live rooms
// - In-browser QR button to share the room, backed by go-qrcode

package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Seednode/santabox/santa"
	"github.com/Seednode/santabox/store"
)

const (
	openRoomTimeout = 10 * time.Second
	qrSize          = 320
)

// Messages coming from clients
type ClientMessage struct {
	Type  string   `json:"type"`            // "submit", "delete", "regenerate", "whoami"
	Name  string   `json:"name,omitempty"`  // submit / whoami
	Items []string `json:"items,omitempty"` // submit
	Text  string   `json:"text,omitempty"`  // submit, one item per line
	Index *int     `json:"index,omitempty"` // delete
}

// WishlistView is a submission as other participants see it. Device
// identities never leave the server.
type WishlistView struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
	Mine  bool     `json:"mine"`
}

// RoomStateMessage is the shared state of the room, personalised only by
// which wishlist is the caller's and whether the caller is host.
type RoomStateMessage struct {
	Type         string         `json:"type"` // "room_state"
	Room         string         `json:"room"`
	Mode         string         `json:"mode"`
	Host         string         `json:"host"` // "me", "other", "unclaimed"
	Participants int            `json:"participants"`
	Wishlists    []WishlistView `json:"wishlists"`
	MatchesReady bool           `json:"matches_ready"`
	Name         string         `json:"name,omitempty"`
	Submitted    bool           `json:"submitted"`
}

// MyMatchMessage carries the caller's own assignment and nothing else.
type MyMatchMessage struct {
	Type         string   `json:"type"` // "my_match"
	MatchesReady bool     `json:"matches_ready"`
	Found        bool     `json:"found"`
	Giver        string   `json:"giver,omitempty"`
	Receiver     string   `json:"receiver,omitempty"`
	Items        []string `json:"items,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// ResultMessage acknowledges a command to the client that sent it.
type ResultMessage struct {
	Type    string `json:"type"` // "ok" or "error"
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func roomState(sess *santa.RoomSession) RoomStateMessage {
	room := sess.Room()
	subs := room.Wishlists()
	_, mine, submitted := sess.MySubmission()

	views := make([]WishlistView, len(subs))
	for i, s := range subs {
		views[i] = WishlistView{
			Name:  s.Name,
			Items: s.Items,
			Mine:  i == mine,
		}
	}

	return RoomStateMessage{
		Type:         "room_state",
		Room:         room.Code(),
		Mode:         room.Mode().String(),
		Host:         sess.HostState().String(),
		Participants: len(subs),
		Wishlists:    views,
		MatchesReady: room.MatchesReady(),
		Name:         sess.Name(),
		Submitted:    submitted,
	}
}

// myMatch resolves the caller's assignment. viewerName overrides the
// remembered name when the caller had to type one in.
func myMatch(sess *santa.RoomSession, viewerName string) MyMatchMessage {
	msg := MyMatchMessage{
		Type:         "my_match",
		MatchesReady: sess.Room().MatchesReady(),
	}

	if !msg.MatchesReady {
		msg.Message = "no matches yet. the host can generate them once everyone has added a wishlist."
		return msg
	}

	name := viewerName
	if strings.TrimSpace(name) == "" {
		name = sess.Name()
	}

	m, ok := sess.AssignmentFor(name)
	if !ok {
		if strings.TrimSpace(name) == "" {
			msg.Message = "add your wishlist first to see your match."
		} else {
			msg.Message = "no match found for \"" + name + "\". make sure you've added your wishlist."
		}
		return msg
	}

	msg.Found = true
	msg.Giver = m.Giver
	msg.Receiver = m.Receiver
	if sub, ok := sess.ReceiverWishlist(m); ok {
		msg.Items = sub.Items
	}

	return msg
}

type client struct {
	conn       *websocket.Conn
	send       chan any
	session    *santa.RoomSession
	limiter    *rate.Limiter
	viewerName string
}

type clientCommand struct {
	client *client
	msg    ClientMessage
}

type roomHub struct {
	code string
	room *santa.Room

	clients  map[*client]bool
	register chan *client
	unreg    chan *client
	commands chan clientCommand
	changed  chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// connected mirrors len(clients) for readers outside run.
	connected atomic.Int32

	mu         sync.RWMutex
	lastActive time.Time
}

func newRoomHub(room *santa.Room) *roomHub {
	h := &roomHub{
		code:       room.Code(),
		room:       room,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unreg:      make(chan *client),
		commands:   make(chan clientCommand),
		changed:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}

	room.OnChange(func(store.Field) {
		select {
		case h.changed <- struct{}{}:
		default:
		}
	})

	return h
}

func (h *roomHub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *roomHub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.lastActive
}

func (h *roomHub) run(cfg *Config) {
	var poll <-chan time.Time
	if h.room.Mode() == santa.ModeLocal {
		ticker := time.NewTicker(cfg.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				_ = c.conn.Close()
			}
			_ = h.room.Close()
			return

		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.sendTo(c, roomState(c.session))
			h.sendTo(c, myMatch(c.session, c.viewerName))

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case cmd := <-h.commands:
			h.touch()
			h.handleCommand(cfg, cmd)

		case <-h.changed:
			h.broadcastLocked()

		case <-poll:
			ctx, cancel := context.WithTimeout(context.Background(), openRoomTimeout)
			if err := h.room.Refresh(ctx); err != nil {
				logger(cfg).Warn("room refresh failed", zap.String("room", h.code), zap.Error(err))
			}
			cancel()
		}

		h.connected.Store(int32(len(h.clients)))
	}
}

// sendTo queues msg for c, dropping the client if its buffer is full.
// Only the run goroutine calls it.
func (h *roomHub) sendTo(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastLocked sends each client its own view. Every client gets the
// shared state, but my_match is resolved per client.
func (h *roomHub) broadcastLocked() {
	for c := range h.clients {
		h.sendTo(c, roomState(c.session))
		if _, ok := h.clients[c]; ok {
			h.sendTo(c, myMatch(c.session, c.viewerName))
		}
	}
}

func (h *roomHub) handleCommand(cfg *Config, cmd clientCommand) {
	c := cmd.client
	msg := cmd.msg

	if _, ok := h.clients[c]; !ok {
		return
	}

	var err error
	switch msg.Type {
	case "submit":
		items := msg.Items
		if len(items) == 0 && msg.Text != "" {
			items = santa.ParseItems(msg.Text)
		}
		_, err = c.session.Submit(msg.Name, items)
		if err == nil {
			logf(cfg, "ROOMS: Wishlist from %q in %s", msg.Name, h.code)
		}

	case "delete":
		if msg.Index == nil {
			err = santa.ErrIndexOutOfRange
			break
		}
		err = c.session.Delete(*msg.Index)

	case "regenerate":
		err = c.session.Regenerate()
		if err == nil {
			logf(cfg, "ROOMS: Matches drawn in %s", h.code)
		}

	case "whoami":
		c.viewerName = msg.Name
		h.sendTo(c, myMatch(c.session, c.viewerName))
		return

	default:
		return
	}

	if err != nil {
		h.sendTo(c, ResultMessage{
			Type:    "error",
			Action:  msg.Type,
			Message: err.Error(),
			Kind:    santa.KindOf(err).String(),
		})
		return
	}

	h.sendTo(c, ResultMessage{Type: "ok", Action: msg.Type})
}

func (h *roomHub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// RoomManager holds a hub per live room code.
type RoomManager struct {
	cfg *Config
	st  store.Store

	mu          sync.Mutex
	hubs        map[string]*roomHub
	idleTimeout time.Duration
}

func newRoomManager(ctx context.Context, cfg *Config, st store.Store) *RoomManager {
	rm := &RoomManager{
		cfg:         cfg,
		st:          st,
		hubs:        make(map[string]*roomHub),
		idleTimeout: cfg.roomTimeout,
	}
	if rm.idleTimeout > 0 {
		go rm.reaperLoop(ctx)
	}
	return rm
}

// getHub returns the hub for code, opening the room on first use.
func (rm *RoomManager) getHub(ctx context.Context, code string) (*roomHub, error) {
	code, err := santa.NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if hub, ok := rm.hubs[code]; ok {
		hub.touch()
		return hub, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, openRoomTimeout)
	defer cancel()

	room, err := santa.OpenRoom(openCtx, code, rm.st, santa.WithLogger(logger(rm.cfg)))
	if err != nil {
		return nil, err
	}

	hub := newRoomHub(room)
	rm.hubs[code] = hub
	go hub.run(rm.cfg)

	logf(rm.cfg, "ROOMS: Opened %s (%s)", code, room.Mode())

	return hub, nil
}

// newRoomCode generates a room code that no live hub is using.
func (rm *RoomManager) newRoomCode() string {
	for {
		code := santa.NewRoomCode()

		rm.mu.Lock()
		_, exists := rm.hubs[code]
		rm.mu.Unlock()

		if !exists {
			return code
		}
	}
}

// reaperLoop periodically unloads hubs that have been idle longer than
// idleTimeout and have no connected clients. Their state stays in the
// backend.
func (rm *RoomManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for code, hub := range rm.hubs {
			if hub.connected.Load() == 0 && hub.idleSince().Before(cutoff) {
				delete(rm.hubs, code)
				hub.stop()
				logf(rm.cfg, "ROOMS: Unloaded idle room %s", code)
			}
		}
		rm.mu.Unlock()
	}
}

// Close stops every hub, which flushes their pending writes.
func (rm *RoomManager) Close() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for code, hub := range rm.hubs {
		delete(rm.hubs, code)
		hub.stop()
		_ = hub.room.Close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocket handler that picks the hub based on :room
func serveWS(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		hub, err := rm.getHub(r.Context(), ps.ByName("room"))
		if err != nil {
			writeRoomError(w, err)
			return
		}

		sess := hub.room.Join(identityFor(w, r))

		// Pass our headers through so a freshly minted identity cookie
		// reaches the browser with the upgrade response.
		conn, err := upgrader.Upgrade(w, r, w.Header())
		if err != nil {
			logger(cfg).Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &client{
			conn:    conn,
			send:    make(chan any, 16),
			session: sess,
			limiter: rate.NewLimiter(rate.Limit(cfg.commandRate), cfg.commandBurst),
		}

		select {
		case hub.register <- c:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go c.writePump()
		c.readPump(hub)
	}
}

func (c *client) readPump(h *roomHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !c.limiter.Allow() {
			// Dropped; the client will see no ack.
			continue
		}

		select {
		case h.commands <- clientCommand{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// roomURL rebuilds the public URL of a room, respecting TLS and
// X-Forwarded-Proto.
func roomURL(cfg *Config, r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + "/rooms/" + code
}

// QR handler: generates a PNG QR code for the room URL using go-qrcode.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code, err := santa.NormalizeRoomCode(ps.ByName("room"))
		if err != nil {
			writeRoomError(w, err)
			return
		}

		png, err := qrcode.Encode(roomURL(cfg, r, code), qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr generation failed")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// redirectNewRoom handles GET /rooms by minting a room code (with a
// collision check against live rooms) and redirecting to /rooms/:room.
func redirectNewRoom(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := rm.newRoomCode()
		logf(cfg, "ROOMS: Created room %s", code)
		http.Redirect(w, r, cfg.prefix+"/rooms/"+code, http.StatusTemporaryRedirect)
	}
}
