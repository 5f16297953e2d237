package santa

import (
	"strings"
)

// ApplySubmission validates a submission from device and returns the
// updated collection plus the stored entry. subs is never modified.
//
// Resolution order for the slot to write:
//  1. the entry already owned by device: overwritten in place when the name
//     matches, otherwise rejected with *DeviceBoundError;
//  2. a legacy entry with no device identity and the same name: claimed and
//     overwritten in place;
//  3. otherwise appended. Duplicate names across devices are allowed.
func ApplySubmission(subs []Submission, name string, items []string, device string) ([]Submission, Submission, error) {
	if strings.TrimSpace(name) == "" {
		return nil, Submission{}, ErrEmptyName
	}

	cleaned := cleanItems(items)
	if len(cleaned) == 0 {
		return nil, Submission{}, ErrEmptyItems
	}

	entry := Submission{
		Name:           name,
		Items:          cleaned,
		DeviceIdentity: device,
	}

	out := make([]Submission, len(subs), len(subs)+1)
	copy(out, subs)

	if i := indexForDevice(device, subs); i >= 0 {
		if !SameName(subs[i].Name, name) {
			return nil, Submission{}, &DeviceBoundError{ExistingName: subs[i].Name}
		}
		out[i] = entry
		return out, entry, nil
	}

	if i := indexForLegacyName(name, subs); i >= 0 {
		out[i] = entry
		return out, entry, nil
	}

	return append(out, entry), entry, nil
}

func indexForLegacyName(name string, subs []Submission) int {
	for i, s := range subs {
		if s.DeviceIdentity == "" && SameName(s.Name, name) {
			return i
		}
	}
	return -1
}

// RemoveSubmission returns subs without the entry at index. Authorisation
// is the caller's job.
func RemoveSubmission(subs []Submission, index int) ([]Submission, error) {
	if index < 0 || index >= len(subs) {
		return nil, ErrIndexOutOfRange
	}

	out := make([]Submission, 0, len(subs)-1)
	out = append(out, subs[:index]...)
	return append(out, subs[index+1:]...), nil
}
