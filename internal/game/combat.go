package game

import "agent-arena/internal/config"

// AttackResult describes one applied attack.
type AttackResult struct {
	AttackerID string `json:"attackerId"`
	DefenderID string `json:"defenderId"`
	Damage     int    `json:"damage"`
	Defended   bool   `json:"defended"`
	DefenderHP int    `json:"defenderHp"`
}

// Resolver computes and applies attack damage. It holds only rule values and
// is safe for concurrent use across matches.
type Resolver struct {
	FullDamage    int
	LightDamage   int
	ModifierScale int
	MinDamage     int
}

// NewResolver builds a resolver from match rules.
func NewResolver(cfg config.MatchConfig) Resolver {
	return Resolver{
		FullDamage:    cfg.FullDamage,
		LightDamage:   cfg.LightDamage,
		ModifierScale: cfg.ModifierScale,
		MinDamage:     cfg.MinDamage,
	}
}

// Damage returns the damage attacker would deal to defender. Modifiers are
// scaled with floor division, so -15 attack at scale 10 costs 2 damage.
func (r Resolver) Damage(attacker, defender *Agent, defending bool) int {
	base := r.FullDamage
	if defending {
		base = r.LightDamage
	}
	return r.floor(base + r.scaled(attacker.Modifiers.Attack) - r.scaled(defender.Modifiers.Armor))
}

// StrikeDamage is the damage of an unmitigated hit: full base damage plus
// the attacker's bonus. Defend and armor do not apply.
func (r Resolver) StrikeDamage(attacker *Agent) int {
	return r.floor(r.FullDamage + r.scaled(attacker.Modifiers.Attack))
}

// Resolve applies an attack. A dead attacker or defender makes it a no-op.
// HP may go negative here; death marking floors it later in the turn.
func (r Resolver) Resolve(attacker, defender *Agent, defending bool) (AttackResult, bool) {
	if attacker == nil || defender == nil || !attacker.Alive || !defender.Alive {
		return AttackResult{}, false
	}
	return r.apply(attacker, defender, r.Damage(attacker, defender, defending), defending), true
}

// Strike applies an unmitigated hit, as a betrayal does. Dead participants
// make it a no-op.
func (r Resolver) Strike(attacker, defender *Agent) (AttackResult, bool) {
	if attacker == nil || defender == nil || !attacker.Alive || !defender.Alive {
		return AttackResult{}, false
	}
	return r.apply(attacker, defender, r.StrikeDamage(attacker), false), true
}

func (r Resolver) apply(attacker, defender *Agent, dmg int, defending bool) AttackResult {
	defender.HP -= dmg

	return AttackResult{
		AttackerID: attacker.ID,
		DefenderID: defender.ID,
		Damage:     dmg,
		Defended:   defending,
		DefenderHP: defender.HP,
	}
}

func (r Resolver) scaled(points int) int {
	q := points / r.ModifierScale
	if points%r.ModifierScale != 0 && points < 0 {
		q--
	}
	return q
}

func (r Resolver) floor(dmg int) int {
	if dmg < r.MinDamage {
		return r.MinDamage
	}
	return dmg
}
