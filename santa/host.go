package santa

// HostState is how a device sees the room's host designation.
type HostState int

const (
	HostUnclaimed HostState = iota
	HostClaimedByMe
	HostClaimedByOther
)

func (s HostState) String() string {
	switch s {
	case HostClaimedByMe:
		return "me"
	case HostClaimedByOther:
		return "other"
	}
	return "unclaimed"
}

// HostStateFor compares the stored designation with device.
func HostStateFor(host, device string) HostState {
	switch {
	case host == "":
		return HostUnclaimed
	case device != "" && host == device:
		return HostClaimedByMe
	}
	return HostClaimedByOther
}

// IsHost reports whether device holds the designation. The null identity
// is never host.
func IsHost(host, device string) bool {
	return HostStateFor(host, device) == HostClaimedByMe
}

// CanRegenerate applies the growth rule: once matches exist, a new draw is
// only allowed when more people have joined than were in the last one.
func CanRegenerate(participants int, existing []Match) error {
	if len(existing) > 0 && participants <= DistinctGivers(existing) {
		return ErrNoNewParticipants
	}
	return nil
}
