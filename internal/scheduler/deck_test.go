package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestDeckDrainsEveryMemberBeforeRepeating(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	d := NewExperienceDeck(testRNG(), ids)

	seen := map[string]int{}
	for i := 0; i < len(ids); i++ {
		id, ok := d.Pop()
		require.True(t, ok)
		seen[id]++
	}
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "every member plays once per cycle")
	}
}

func TestDeckReshufflesOnDrain(t *testing.T) {
	d := NewExperienceDeck(testRNG(), []string{"a", "b"})
	for i := 0; i < 10; i++ {
		_, ok := d.Pop()
		require.True(t, ok, "a non-empty deck never runs dry")
	}
}

func TestEmptyDeck(t *testing.T) {
	assert.True(t, (*Deck)(nil).Empty())

	d := NewExperienceDeck(testRNG(), nil)
	assert.True(t, d.Empty())
	_, ok := d.Pop()
	assert.False(t, ok)
}

func TestNestedDeckContributesOnePerDraw(t *testing.T) {
	rng := testRNG()
	nested := NewExperienceDeck(rng, []string{"n1", "n2"})
	d := NewDeck(rng, []entry{
		{id: "solo"},
		{deck: nested},
	})

	// Two full cycles: each cycle yields the solo entry plus exactly one
	// nested member, and the nested deck remembers its own progress.
	var nestedSeen []string
	soloCount := 0
	for i := 0; i < 4; i++ {
		id, ok := d.Pop()
		require.True(t, ok)
		if id == "solo" {
			soloCount++
		} else {
			nestedSeen = append(nestedSeen, id)
		}
	}
	assert.Equal(t, 2, soloCount)
	assert.ElementsMatch(t, []string{"n1", "n2"}, nestedSeen)
}

func TestNestedEmptyDeckIsSkipped(t *testing.T) {
	rng := testRNG()
	d := NewDeck(rng, []entry{
		{deck: NewExperienceDeck(rng, nil)},
		{id: "only"},
	})

	for i := 0; i < 3; i++ {
		id, ok := d.Pop()
		require.True(t, ok)
		assert.Equal(t, "only", id)
	}
}

func TestDeckOfOnlyEmptyNestedDecks(t *testing.T) {
	rng := testRNG()
	d := NewDeck(rng, []entry{{deck: NewExperienceDeck(rng, nil)}})
	_, ok := d.Pop()
	assert.False(t, ok)
}
