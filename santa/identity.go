package santa

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

const deviceKey = "device"

// Keyring is per-device persistent storage whose scope is wider than any
// single room: a cookie jar, a local file, browser storage.
type Keyring interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// IdentityProvider hands out the device identity and remembers which
// display name the device used in each room.
type IdentityProvider struct {
	keyring Keyring
	newID   func() string

	mu     sync.Mutex
	cached string
}

// NewIdentityProvider binds a provider to kr. A nil keyring yields a
// provider that always reports the null identity.
func NewIdentityProvider(kr Keyring) *IdentityProvider {
	return &IdentityProvider{
		keyring: kr,
		newID:   newDeviceIdentity,
	}
}

// newDeviceIdentity is a ULID: millisecond timestamp followed by random
// bits, monotonic within the process.
func newDeviceIdentity() string {
	return ulid.Make().String()
}

// DeviceIdentity returns the persisted identity, minting and storing one
// on first use. When the keyring cannot be read or written it returns the
// empty string, and callers fall back to name-only matching.
func (p *IdentityProvider) DeviceIdentity() string {
	if p == nil || p.keyring == nil {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached
	}

	id, ok, err := p.keyring.Get(deviceKey)
	if err != nil {
		return ""
	}
	if ok && id != "" {
		p.cached = id
		return id
	}

	id = p.newID()
	if err := p.keyring.Set(deviceKey, id); err != nil {
		return ""
	}
	p.cached = id

	return id
}

func boundNameKey(room string) string {
	return "room/" + room + "/name"
}

// BoundName is the display name this device last submitted under in room.
func (p *IdentityProvider) BoundName(room string) string {
	if p == nil || p.keyring == nil {
		return ""
	}

	name, ok, err := p.keyring.Get(boundNameKey(room))
	if err != nil || !ok {
		return ""
	}
	return name
}

// BindName remembers name for room. Failures are ignored: the binding only
// saves the user from retyping their name.
func (p *IdentityProvider) BindName(room, name string) {
	if p == nil || p.keyring == nil {
		return
	}
	_ = p.keyring.Set(boundNameKey(room), name)
}

// HasSubmitted reports whether device owns a submission in subs. The null
// identity never owns anything.
func HasSubmitted(device string, subs []Submission) bool {
	return indexForDevice(device, subs) >= 0
}

// SubmissionFor returns the submission owned by device.
func SubmissionFor(device string, subs []Submission) (Submission, bool) {
	i := indexForDevice(device, subs)
	if i < 0 {
		return Submission{}, false
	}
	return subs[i], true
}

func indexForDevice(device string, subs []Submission) int {
	if device == "" {
		return -1
	}
	for i, s := range subs {
		if s.DeviceIdentity == device {
			return i
		}
	}
	return -1
}

// MemoryKeyring is a Keyring backed by a map, for tests and CLI use.
type MemoryKeyring struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{values: make(map[string]string)}
}

func (k *MemoryKeyring) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	v, ok := k.values[key]
	return v, ok, nil
}

func (k *MemoryKeyring) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.values[key] = value
	return nil
}
