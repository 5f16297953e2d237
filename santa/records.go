package santa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Seednode/santabox/store"
)

// Submission is one participant's wishlist. DeviceIdentity is empty on
// records written before devices were tracked.
type Submission struct {
	Name           string   `json:"name"`
	Items          []string `json:"items"`
	DeviceIdentity string   `json:"deviceIdentity,omitempty"`
}

// Match pairs a giver with the person they buy for.
type Match struct {
	Giver                  string `json:"giver"`
	Receiver               string `json:"receiver"`
	GiverDeviceIdentity    string `json:"giverDeviceIdentity,omitempty"`
	ReceiverDeviceIdentity string `json:"receiverDeviceIdentity,omitempty"`
}

// Participant is the subset of a submission the derangement works on.
type Participant struct {
	Name           string
	DeviceIdentity string
}

// Participants projects submissions onto participants, preserving order.
func Participants(subs []Submission) []Participant {
	out := make([]Participant, len(subs))
	for i, s := range subs {
		out[i] = Participant{Name: s.Name, DeviceIdentity: s.DeviceIdentity}
	}
	return out
}

// The decode structs use pointers so a missing property can be told apart
// from an empty one.
type submissionRecord struct {
	Name           *string   `json:"name"`
	Items          *[]string `json:"items"`
	DeviceIdentity *string   `json:"deviceIdentity"`
}

type matchRecord struct {
	Giver                  *string `json:"giver"`
	Receiver               *string `json:"receiver"`
	GiverDeviceIdentity    *string `json:"giverDeviceIdentity"`
	ReceiverDeviceIdentity *string `json:"receiverDeviceIdentity"`
}

func isUnset(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func malformed(field store.Field, format string, args ...any) error {
	return &MalformedRecordError{Field: string(field), Err: fmt.Errorf(format, args...)}
}

// DecodeSubmissions parses the stored wishlists field. An unset field is an
// empty list; anything that is not an array of well-formed submissions is
// a *MalformedRecordError.
func DecodeSubmissions(raw []byte) ([]Submission, error) {
	if isUnset(raw) {
		return []Submission{}, nil
	}

	var records []*submissionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &MalformedRecordError{Field: string(store.FieldWishlists), Err: err}
	}

	out := make([]Submission, 0, len(records))
	for i, rec := range records {
		switch {
		case rec == nil:
			return nil, malformed(store.FieldWishlists, "entry %d is null", i)
		case rec.Name == nil:
			return nil, malformed(store.FieldWishlists, "entry %d has no name", i)
		case rec.Items == nil:
			return nil, malformed(store.FieldWishlists, "entry %d has no items", i)
		}

		sub := Submission{
			Name:  *rec.Name,
			Items: append([]string{}, (*rec.Items)...),
		}
		if rec.DeviceIdentity != nil {
			sub.DeviceIdentity = *rec.DeviceIdentity
		}
		out = append(out, sub)
	}

	return out, nil
}

// DecodeMatches parses the stored matches field.
func DecodeMatches(raw []byte) ([]Match, error) {
	if isUnset(raw) {
		return []Match{}, nil
	}

	var records []*matchRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, &MalformedRecordError{Field: string(store.FieldMatches), Err: err}
	}

	out := make([]Match, 0, len(records))
	for i, rec := range records {
		switch {
		case rec == nil:
			return nil, malformed(store.FieldMatches, "entry %d is null", i)
		case rec.Giver == nil || rec.Receiver == nil:
			return nil, malformed(store.FieldMatches, "entry %d needs both giver and receiver", i)
		}

		m := Match{Giver: *rec.Giver, Receiver: *rec.Receiver}
		if rec.GiverDeviceIdentity != nil {
			m.GiverDeviceIdentity = *rec.GiverDeviceIdentity
		}
		if rec.ReceiverDeviceIdentity != nil {
			m.ReceiverDeviceIdentity = *rec.ReceiverDeviceIdentity
		}
		out = append(out, m)
	}

	return out, nil
}

// DecodeHost parses the host designation. Unset means unclaimed.
func DecodeHost(raw []byte) (string, error) {
	if isUnset(raw) {
		return "", nil
	}

	var host string
	if err := json.Unmarshal(raw, &host); err != nil {
		return "", &MalformedRecordError{Field: string(store.FieldHost), Err: err}
	}

	return host, nil
}

// EncodeSubmissions always produces a JSON array, never null.
func EncodeSubmissions(subs []Submission) ([]byte, error) {
	if subs == nil {
		subs = []Submission{}
	}
	for i := range subs {
		if subs[i].Items == nil {
			return nil, errors.New("santa: submission items must not be nil")
		}
	}
	return json.Marshal(subs)
}

// EncodeMatches always produces a JSON array, never null.
func EncodeMatches(matches []Match) ([]byte, error) {
	if matches == nil {
		matches = []Match{}
	}
	return json.Marshal(matches)
}

func EncodeHost(device string) ([]byte, error) {
	return json.Marshal(device)
}
