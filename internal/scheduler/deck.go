package scheduler

import (
	"math/rand"
)

// entry is one playlist slot: a single experience or a nested deck that
// contributes one experience per draw. Collections get a nested deck so they
// occupy one slot in the rotation no matter how many members they have.
type entry struct {
	id   string
	deck *Deck
}

// Deck is a shuffled queue that reshuffles from its source when it drains.
// Nested decks remember their own progress across draws.
type Deck struct {
	rng    *rand.Rand
	source []entry
	queue  []entry
}

func NewDeck(rng *rand.Rand, entries []entry) *Deck {
	return &Deck{rng: rng, source: entries}
}

// NewExperienceDeck builds a flat deck of experience ids.
func NewExperienceDeck(rng *rand.Rand, ids []string) *Deck {
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, entry{id: id})
	}
	return NewDeck(rng, entries)
}

// Empty reports whether the deck can ever produce an experience.
func (d *Deck) Empty() bool {
	return d == nil || len(d.source) == 0
}

// Pop draws the next experience id, reshuffling when the queue drains. An
// entry whose nested deck is empty is skipped.
func (d *Deck) Pop() (string, bool) {
	if d.Empty() {
		return "", false
	}
	// Two passes bound the walk when every entry is an empty nested deck.
	for pass := 0; pass < 2; pass++ {
		if len(d.queue) == 0 {
			d.queue = make([]entry, len(d.source))
			copy(d.queue, d.source)
			d.rng.Shuffle(len(d.queue), func(i, j int) {
				d.queue[i], d.queue[j] = d.queue[j], d.queue[i]
			})
		}
		for len(d.queue) > 0 {
			next := d.queue[0]
			d.queue = d.queue[1:]
			if next.deck != nil {
				if id, ok := next.deck.Pop(); ok {
					return id, true
				}
				continue
			}
			return next.id, true
		}
	}
	return "", false
}
