package santa

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays vals in order, wrapping around, and counts calls.
type scriptedSource struct {
	vals  []int
	calls int
}

func (s *scriptedSource) IntN(n int) int {
	v := s.vals[s.calls%len(s.vals)]
	s.calls++
	return v % n
}

func people(names ...string) []Participant {
	out := make([]Participant, len(names))
	for i, n := range names {
		out[i] = Participant{Name: n}
	}
	return out
}

func assertDerangement(t *testing.T, participants []Participant, matches []Match) {
	t.Helper()

	require.Len(t, matches, len(participants))

	receivers := make(map[string]int)
	for i, m := range matches {
		assert.Equal(t, participants[i].Name, m.Giver, "matches follow participant order")
		assert.False(t, SameName(m.Giver, m.Receiver), "%s drew themselves", m.Giver)
		receivers[NormalizeName(m.Receiver)]++
	}

	for _, p := range participants {
		assert.Equal(t, 1, receivers[NormalizeName(p.Name)], "%s should receive exactly once", p.Name)
	}
}

func TestDerangeProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for n := 2; n <= 12; n++ {
		participants := make([]Participant, n)
		for i := range participants {
			participants[i] = Participant{Name: string(rune('A' + i)), DeviceIdentity: string(rune('a' + i))}
		}

		for range 50 {
			matches, err := Derange(participants, rng)
			require.NoError(t, err)
			assertDerangement(t, participants, matches)
		}
	}
}

func TestDerangeScripted(t *testing.T) {
	t.Run("three participants rotate", func(t *testing.T) {
		src := &scriptedSource{vals: []int{0, 0}}

		matches, err := Derange(people("Amy", "Bo", "Cy"), src)
		require.NoError(t, err)

		assert.Equal(t, []Match{
			{Giver: "Amy", Receiver: "Bo"},
			{Giver: "Bo", Receiver: "Cy"},
			{Giver: "Cy", Receiver: "Amy"},
		}, matches)
		assert.Equal(t, 2, src.calls)
	})

	t.Run("identity shuffle is retried", func(t *testing.T) {
		src := &scriptedSource{vals: []int{1, 0}}

		matches, err := Derange(people("Amy", "Bo"), src)
		require.NoError(t, err)

		assert.Equal(t, []Match{
			{Giver: "Amy", Receiver: "Bo"},
			{Giver: "Bo", Receiver: "Amy"},
		}, matches)
		assert.Equal(t, 2, src.calls)
	})
}

func TestDerangeCarriesDeviceIdentities(t *testing.T) {
	participants := []Participant{
		{Name: "Amy", DeviceIdentity: "dev-a"},
		{Name: "Bo"},
	}

	matches, err := Derange(participants, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	assert.Equal(t, Match{Giver: "Amy", Receiver: "Bo", GiverDeviceIdentity: "dev-a"}, matches[0])
	assert.Equal(t, Match{Giver: "Bo", Receiver: "Amy", ReceiverDeviceIdentity: "dev-a"}, matches[1])
}

func TestDerangeTooFewParticipants(t *testing.T) {
	for _, participants := range [][]Participant{nil, people("Solo")} {
		src := &scriptedSource{vals: []int{0}}

		matches, err := Derange(participants, src)
		assert.ErrorIs(t, err, ErrInsufficientParticipants)
		assert.Nil(t, matches)
		assert.Zero(t, src.calls, "randomness must not be consumed")
	}
}

func TestDerangeGivesUp(t *testing.T) {
	// Names that normalise identically can never be deranged.
	src := &scriptedSource{vals: []int{0, 1}}

	matches, err := Derange(people("Al", " al "), src)
	assert.ErrorIs(t, err, ErrDerangementFailed)
	assert.Nil(t, matches)
	assert.Equal(t, MaxDerangementAttempts, src.calls)
	assert.Equal(t, KindExhausted, KindOf(err))
}

func TestDerangeComparesNormalisedNames(t *testing.T) {
	participants := people("Amy", "AMY ", "Bo", "bo")
	rng := rand.New(rand.NewPCG(3, 4))

	for range 100 {
		matches, err := Derange(participants, rng)
		require.NoError(t, err)

		for _, m := range matches {
			assert.False(t, SameName(m.Giver, m.Receiver), "%q drew %q", m.Giver, m.Receiver)
		}
	}
}

func TestDerangeThenViewAsAmy(t *testing.T) {
	matches, err := Derange(people("Amy", "Bo", "Cy"), &scriptedSource{vals: []int{0, 0}})
	require.NoError(t, err)

	m, ok := ViewerAssignment(matches, "", "amy")
	require.True(t, ok)
	assert.Equal(t, Match{Giver: "Amy", Receiver: "Bo"}, m)
}
