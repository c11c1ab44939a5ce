// Package strategy provides built-in decision strategies and a webhook-backed
// strategy for remotely hosted agents.
package strategy

import (
	"context"
	"math/rand"
	"sync"

	"agent-arena/internal/game"
)

// weakest returns the living opponent with the least HP, skipping ids in
// exclude. Ties go to roster order.
func weakest(v game.GameView, exclude map[string]bool) (game.PublicStats, bool) {
	var best game.PublicStats
	found := false
	for _, o := range v.AliveOpponents() {
		if exclude[o.ID] {
			continue
		}
		if !found || o.HP < best.HP {
			best, found = o, true
		}
	}
	return best, found
}

func strongest(v game.GameView) (game.PublicStats, bool) {
	var best game.PublicStats
	found := false
	for _, o := range v.AliveOpponents() {
		if !found || o.HP > best.HP {
			best, found = o, true
		}
	}
	return best, found
}

func allies(v game.GameView) map[string]bool {
	out := make(map[string]bool)
	for _, a := range v.Alliances {
		if a.Has(v.Self.ID) {
			out[a.Partner(v.Self.ID)] = true
		}
	}
	return out
}

// Aggressive always attacks the weakest living opponent, allies included.
func Aggressive() game.Strategy {
	return game.StrategyFunc(func(_ context.Context, v game.GameView) (game.Decision, error) {
		if target, ok := weakest(v, nil); ok {
			return game.Attack(target.ID), nil
		}
		return game.Defend(), nil
	})
}

// Defensive defends, accepts any alliance offered, and only attacks to
// finish an opponent below a quarter of its health while itself above half.
func Defensive() game.Strategy {
	return game.StrategyFunc(func(_ context.Context, v game.GameView) (game.Decision, error) {
		if len(v.Proposals) > 0 {
			return game.AcceptAlliance(v.Proposals[0].From), nil
		}
		if v.Self.HP*2 > v.Self.MaxHP {
			if target, ok := weakest(v, allies(v)); ok && target.HP*4 < target.MaxHP {
				return game.Attack(target.ID), nil
			}
		}
		return game.Defend(), nil
	})
}

// Diplomat seeks one alliance with the strongest opponent, fights everyone
// else, and betrays its ally once the ally is the last opponent standing.
func Diplomat() game.Strategy {
	return game.StrategyFunc(func(_ context.Context, v game.GameView) (game.Decision, error) {
		if len(v.Proposals) > 0 {
			return game.AcceptAlliance(v.Proposals[0].From), nil
		}

		alive := v.AliveOpponents()
		friends := allies(v)
		if len(friends) == 0 {
			if target, ok := strongest(v); ok && len(alive) > 1 {
				return game.ProposeAlliance(target.ID, nil), nil
			}
		}

		if len(alive) == 1 && friends[alive[0].ID] {
			if al, ok := v.AllianceWith(alive[0].ID); ok {
				return game.BetrayAlliance(al.ID, alive[0].ID), nil
			}
		}

		if target, ok := weakest(v, friends); ok {
			return game.Attack(target.ID), nil
		}
		return game.Defend(), nil
	})
}

type random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// Random picks uniformly among the legal actions. The same seed replays the
// same choices for the same views.
func Random(seed int64) game.Strategy {
	return &random{rng: rand.New(rand.NewSource(seed))}
}

func (r *random) Decide(_ context.Context, v game.GameView) (game.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alive := v.AliveOpponents()
	if len(alive) == 0 {
		return game.Defend(), nil
	}
	target := alive[r.rng.Intn(len(alive))].ID

	switch r.rng.Intn(5) {
	case 0:
		return game.Defend(), nil
	case 1:
		share := r.rng.Intn(101)
		return game.ProposeAlliance(target, map[string]int{v.Self.ID: share, target: 100 - share}), nil
	case 2:
		if len(v.Proposals) > 0 {
			return game.AcceptAlliance(v.Proposals[r.rng.Intn(len(v.Proposals))].From), nil
		}
	case 3:
		for _, a := range v.Alliances {
			if a.Has(v.Self.ID) {
				return game.BetrayAlliance(a.ID, a.Partner(v.Self.ID)), nil
			}
		}
	}
	return game.Attack(target), nil
}
