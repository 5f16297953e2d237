package santa

import (
	"go.uber.org/zap"

	"github.com/Seednode/santabox/store"
)

// RoomSession is one device's view of a room. Mutations update the shared
// Room cache immediately and are persisted in the background; persistence
// failures are logged by the Room, never returned here.
type RoomSession struct {
	room   *Room
	ident  *IdentityProvider
	device string
}

func (s *RoomSession) Room() *Room {
	return s.room
}

// Device is the session's device identity, empty for the null identity.
func (s *RoomSession) Device() string {
	return s.device
}

// Name is the display name this device last submitted under in the room.
func (s *RoomSession) Name() string {
	return s.ident.BoundName(s.room.code)
}

// ClaimHost takes the host designation if it is unset.
func (s *RoomSession) ClaimHost() bool {
	return s.room.claimHost(s.device)
}

func (s *RoomSession) HostState() HostState {
	return HostStateFor(s.room.Host(), s.device)
}

func (s *RoomSession) IsHost() bool {
	return IsHost(s.room.Host(), s.device)
}

// Submit adds or updates this device's wishlist. Any accepted submission
// clears the match set.
func (s *RoomSession) Submit(name string, items []string) (Submission, error) {
	r := s.room

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Submission{}, ErrSessionClosed
	}

	subs, entry, err := ApplySubmission(r.wishlists, name, items, s.device)
	if err != nil {
		r.mu.Unlock()
		return Submission{}, err
	}

	if err := r.replaceMembershipLocked(subs); err != nil {
		r.mu.Unlock()
		return Submission{}, err
	}
	r.mu.Unlock()

	s.ident.BindName(r.code, name)
	r.logger.Debug("wishlist submitted",
		zap.String("device", s.device),
		zap.Int("items", len(entry.Items)))
	r.notify(store.FieldWishlists)
	r.notify(store.FieldMatches)

	return entry, nil
}

// Delete removes the wishlist at index. Host only.
func (s *RoomSession) Delete(index int) error {
	r := s.room

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if !IsHost(r.host, s.device) {
		r.mu.Unlock()
		return ErrNotHost
	}

	subs, err := RemoveSubmission(r.wishlists, index)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	if err := r.replaceMembershipLocked(subs); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.logger.Info("wishlist deleted", zap.Int("index", index))
	r.notify(store.FieldWishlists)
	r.notify(store.FieldMatches)

	return nil
}

// replaceMembershipLocked stores subs and invalidates the match set.
func (r *Room) replaceMembershipLocked(subs []Submission) error {
	wishlists, err := EncodeSubmissions(subs)
	if err != nil {
		return err
	}
	matches, err := EncodeMatches(nil)
	if err != nil {
		return err
	}

	r.wishlists = subs
	r.matches = []Match{}
	r.setLocked(store.FieldWishlists, wishlists)
	r.setLocked(store.FieldMatches, matches)

	return nil
}

// Regenerate draws a new match set over the current participants. Host
// only, and only when the room has grown since the last draw.
func (s *RoomSession) Regenerate() error {
	r := s.room

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if !IsHost(r.host, s.device) {
		r.mu.Unlock()
		return ErrNotHost
	}
	if err := CanRegenerate(len(r.wishlists), r.matches); err != nil {
		r.mu.Unlock()
		return err
	}

	matches, err := Derange(Participants(r.wishlists), r.rng)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	value, err := EncodeMatches(matches)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.matches = matches
	r.setLocked(store.FieldMatches, value)
	r.mu.Unlock()

	r.logger.Info("matches generated", zap.Int("participants", len(matches)))
	r.notify(store.FieldMatches)

	return nil
}

// MyAssignment resolves this device's own match, falling back to the name
// it last submitted under.
func (s *RoomSession) MyAssignment() (Match, bool) {
	return s.AssignmentFor(s.Name())
}

// AssignmentFor resolves the viewer's match using name as the fallback
// when the device identity is not among the givers.
func (s *RoomSession) AssignmentFor(name string) (Match, bool) {
	r := s.room

	r.mu.RLock()
	defer r.mu.RUnlock()

	return ViewerAssignment(r.matches, s.device, name)
}

// ReceiverWishlist surfaces the gift ideas of m's receiver.
func (s *RoomSession) ReceiverWishlist(m Match) (Submission, bool) {
	r := s.room

	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := ReceiverWishlist(m, r.wishlists)
	if !ok {
		return Submission{}, false
	}
	sub.Items = append([]string(nil), sub.Items...)

	return sub, true
}

// MySubmission returns the wishlist owned by this device.
func (s *RoomSession) MySubmission() (Submission, int, bool) {
	r := s.room

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := indexForDevice(s.device, r.wishlists)
	if i < 0 && s.device == "" {
		i = indexForLegacyName(s.Name(), r.wishlists)
	}
	if i < 0 {
		return Submission{}, -1, false
	}

	sub := r.wishlists[i]
	sub.Items = append([]string(nil), sub.Items...)

	return sub, i, true
}

func (s *RoomSession) HasSubmitted() bool {
	_, _, ok := s.MySubmission()
	return ok
}

func (s *RoomSession) Wishlists() []Submission {
	return s.room.Wishlists()
}
