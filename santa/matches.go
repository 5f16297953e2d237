package santa

// ViewerAssignment finds the one match in which the viewer is the giver.
// The device identity wins when it is present among the givers; otherwise
// the viewer's name is compared against giver names. The second result is
// false when neither resolves and the caller should ask for a name.
func ViewerAssignment(matches []Match, viewerDevice, viewerName string) (Match, bool) {
	if viewerDevice != "" {
		for _, m := range matches {
			if m.GiverDeviceIdentity == viewerDevice {
				return m, true
			}
		}
	}

	if NormalizeName(viewerName) == "" {
		return Match{}, false
	}

	for _, m := range matches {
		if SameName(m.Giver, viewerName) {
			return m, true
		}
	}

	return Match{}, false
}

// ReceiverWishlist finds the submission of the person m's giver is buying
// for, by device identity when the match carries one and by name otherwise.
func ReceiverWishlist(m Match, subs []Submission) (Submission, bool) {
	if m.ReceiverDeviceIdentity != "" {
		if sub, ok := SubmissionFor(m.ReceiverDeviceIdentity, subs); ok {
			return sub, true
		}
	}

	for _, s := range subs {
		if SameName(s.Name, m.Receiver) {
			return s, true
		}
	}

	return Submission{}, false
}

// DistinctGivers counts the people a match set was generated for.
func DistinctGivers(matches []Match) int {
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		key := "name:" + NormalizeName(m.Giver)
		if m.GiverDeviceIdentity != "" {
			key = "device:" + m.GiverDeviceIdentity
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}
