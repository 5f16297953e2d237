package santa

import (
	"math/rand/v2"
)

// MaxDerangementAttempts bounds the shuffle-and-check loop. The chance of
// a random permutation being a derangement tends to 1/e, so a handful of
// attempts is the norm.
const MaxDerangementAttempts = 1000

// Source supplies uniform integers in [0, n). *rand.Rand satisfies it, so
// tests can pass a seeded generator.
type Source interface {
	IntN(n int) int
}

type defaultSource struct{}

func (defaultSource) IntN(n int) int {
	return rand.IntN(n)
}

// Derange assigns every participant a receiver such that nobody draws
// themselves, comparing people by normalised name. The result is ordered
// like participants, one Match per giver. A nil rng uses the process-wide
// generator.
func Derange(participants []Participant, rng Source) ([]Match, error) {
	n := len(participants)
	if n < 2 {
		return nil, ErrInsufficientParticipants
	}
	if rng == nil {
		rng = defaultSource{}
	}

	keys := make([]string, n)
	for i, p := range participants {
		keys[i] = NormalizeName(p.Name)
	}

	perm := make([]int, n)
	for range MaxDerangementAttempts {
		for i := range perm {
			perm[i] = i
		}

		// Fisher-Yates
		for i := n - 1; i > 0; i-- {
			j := rng.IntN(i + 1)
			perm[i], perm[j] = perm[j], perm[i]
		}

		if hasFixedPoint(keys, perm) {
			continue
		}

		matches := make([]Match, n)
		for i, giver := range participants {
			receiver := participants[perm[i]]
			matches[i] = Match{
				Giver:                  giver.Name,
				Receiver:               receiver.Name,
				GiverDeviceIdentity:    giver.DeviceIdentity,
				ReceiverDeviceIdentity: receiver.DeviceIdentity,
			}
		}
		return matches, nil
	}

	return nil, ErrDerangementFailed
}

func hasFixedPoint(keys []string, perm []int) bool {
	for i, j := range perm {
		if keys[i] == keys[j] {
			return true
		}
	}
	return false
}
