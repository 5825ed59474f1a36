package ensure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoValidEntities means no controllable, available device was found.
var ErrNoValidEntities = errors.New("no valid light entities found")

// Resolution is the output of Resolve.
type Resolution struct {
	Devices []string // available lights, first-seen order
	Skipped []string // unavailable lights, first-seen order
}

// Resolve expands ids into concrete devices. Groups are expanded one level:
// a member that is itself a group is dropped, not expanded.
func Resolve(ctx context.Context, groups GroupResolver, catalog AvailabilityChecker, ids []string) (Resolution, error) {
	devices := newOrderedSet()
	skipped := newOrderedSet()

	classify := func(id string) {
		if catalog.IsAvailable(ctx, id) {
			devices.add(id)
		} else {
			skipped.add(id)
		}
	}

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		members, isGroup, err := groups.Members(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("entity", id).Msg("Failed to resolve group members, dropping")
			continue
		}

		switch {
		case isGroup:
			log.Debug().Str("group", id).Int("members", len(members)).Msg("Expanding group")
			for _, m := range members {
				if !catalog.IsDevice(ctx, m) {
					log.Debug().Str("group", id).Str("member", m).Msg("Group member is not a light, ignoring")
					continue
				}
				classify(m)
			}
		case catalog.IsDevice(ctx, id):
			classify(id)
		default:
			log.Warn().Str("entity", id).Msg("Entity is not a light or group")
		}
	}

	// a device listed both directly and through a group may land in both sets
	// if its availability flipped between checks; the available verdict wins
	for _, id := range devices.items {
		skipped.remove(id)
	}

	res := Resolution{Devices: devices.items, Skipped: skipped.items}

	log.Debug().
		Int("valid", len(res.Devices)).
		Int("skipped", len(res.Skipped)).
		Msg("Resolved entities")

	if len(res.Devices) == 0 {
		if len(res.Skipped) > 0 {
			return res, fmt.Errorf("%w. Skipped: %s", ErrNoValidEntities, strings.Join(res.Skipped, ", "))
		}
		return res, ErrNoValidEntities
	}
	return res, nil
}

// orderedSet keeps first-seen order while deduplicating.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet(items ...string) *orderedSet {
	s := &orderedSet{seen: make(map[string]struct{})}
	for _, it := range items {
		s.add(it)
	}
	return s
}

func (s *orderedSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.items = append(s.items, id)
}

func (s *orderedSet) has(id string) bool {
	_, ok := s.seen[id]
	return ok
}

func (s *orderedSet) remove(id string) {
	if _, ok := s.seen[id]; !ok {
		return
	}
	delete(s.seen, id)
	for i, it := range s.items {
		if it == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}
