package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
)

const (
	tickInterval = time.Second
	// commercialsCollection is the collection whose members play on a fixed
	// cadence instead of the main rotation.
	commercialsCollection = "commercials"
)

// Scheduler rotates the display. It is deliberately stateless about the
// controller's internals: everything it knows comes from the operator API.
type Scheduler struct {
	client *Client
	logger zerolog.Logger
	rng    *rand.Rand
	now    func() time.Time

	lastUpdate     int64
	main           *Deck
	commercials    *Deck
	lastCommercial time.Time
}

func New(client *Client) *Scheduler {
	return &Scheduler{
		client: client,
		logger: log.WithComponent("scheduler"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// Run ticks until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	current, err := s.client.Current(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", "scheduler.current_failed").Msg("fetching current failed")
		return
	}

	// An empty display reads back as a bare object with a zero last_update,
	// so a missing deck forces the first build.
	if s.main == nil || current.LastUpdate != s.lastUpdate {
		if err := s.rebuild(ctx); err != nil {
			s.logger.Warn().Err(err).Str("event", "scheduler.rebuild_failed").Msg("rebuilding playlist failed")
			return
		}
		s.lastUpdate = current.LastUpdate
	}

	if !shouldAdvance(current, s.now()) {
		return
	}

	next, ok := s.pick()
	if !ok {
		return
	}
	err = s.client.SetCurrent(ctx, next, config.CurrentExperienceSetDelay)
	switch {
	case errors.Is(err, ErrThrottled):
		// Someone else set the display a moment ago; their pick wins.
		s.logger.Debug().Str("event", "scheduler.throttled").Msg("advance throttled")
	case err != nil:
		s.logger.Warn().Err(err).Str("event", "scheduler.advance_failed").Str("experience", next).Msg("advancing failed")
	default:
		s.logger.Info().Str("event", "scheduler.advanced").Str("experience", next).Msg("advanced to next experience")
	}
}

// rebuild fetches the catalog and rebuilds both decks. Collection members
// share one slot in the main rotation; the commercials collection plays on
// its own cadence.
func (s *Scheduler) rebuild(ctx context.Context) error {
	experiences, err := s.client.Experiences(ctx)
	if err != nil {
		return err
	}
	collections, err := s.client.Collections(ctx)
	if err != nil {
		return err
	}

	queueable := map[string]*experience.Experience{}
	for _, exp := range experiences {
		if exp.Queueable && !exp.Unlisted {
			queueable[exp.ID] = exp
		}
	}

	var mainEntries []entry
	inCollection := map[string]struct{}{}
	for id, collection := range collections {
		var members []string
		for _, expID := range collection.Experiences {
			if _, ok := queueable[expID]; ok {
				members = append(members, expID)
			}
			inCollection[expID] = struct{}{}
		}
		if id == commercialsCollection {
			s.commercials = NewExperienceDeck(s.rng, members)
			continue
		}
		if len(members) > 0 {
			mainEntries = append(mainEntries, entry{deck: NewExperienceDeck(s.rng, members)})
		}
	}
	for id := range queueable {
		if _, ok := inCollection[id]; !ok {
			mainEntries = append(mainEntries, entry{id: id})
		}
	}

	s.main = NewDeck(s.rng, mainEntries)
	s.logger.Info().
		Str("event", "scheduler.rebuilt").
		Int("slots", len(mainEntries)).
		Msg("playlist rebuilt")
	return nil
}

// pick chooses the next experience, preferring a commercial when one is due.
func (s *Scheduler) pick() (string, bool) {
	now := s.now()
	if !s.commercials.Empty() && now.Sub(s.lastCommercial) >= config.CommercialInterval {
		if id, ok := s.commercials.Pop(); ok {
			s.lastCommercial = now
			return id, true
		}
	}
	return s.main.Pop()
}

// shouldAdvance decides whether the current experience's run is over.
func shouldAdvance(current CurrentState, now time.Time) bool {
	if current.ID == nil {
		return true
	}
	if current.Lock.Truthy() {
		return false
	}
	// A lock that was set and then released is a finished session; rotate
	// right away instead of padding out the lifetime.
	if current.LastLockUpdate != nil {
		return true
	}
	if current.EndTime != nil {
		return now.UnixMilli() >= *current.EndTime
	}
	if current.LastInteraction != nil {
		last := time.UnixMilli(*current.LastInteraction)
		if now.Sub(last) < config.InteractionTimeout {
			return false
		}
	}
	if current.StartTime == nil {
		return true
	}
	lifetime := time.Duration(current.Lifetime) * time.Second
	if lifetime <= 0 {
		lifetime = experience.DefaultLifetime * time.Second
	}
	return now.Sub(time.UnixMilli(*current.StartTime)) >= lifetime
}
