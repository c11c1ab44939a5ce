package game

import (
	"fmt"
)

// Modifiers are the static stat bonuses resolved once at match start.
type Modifiers struct {
	Health int `json:"health"`
	Armor  int `json:"armor"`
	Attack int `json:"attack"`
	Speed  int `json:"speed"`
}

// AgentDescriptor is what a lobby hands to the engine for each participant.
type AgentDescriptor struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Wallet    string    `json:"wallet,omitempty"`
	External  bool      `json:"external"`
	Modifiers Modifiers `json:"modifiers"`
	Strategy  Strategy  `json:"-"`
}

// Validate checks the fields the engine relies on. Every modifier must lie
// within [-maxModifier, maxModifier].
func (d AgentDescriptor) Validate(maxModifier int) error {
	if d.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if d.Strategy == nil {
		return fmt.Errorf("agent %s has no strategy", d.ID)
	}
	for name, v := range map[string]int{
		"health": d.Modifiers.Health,
		"armor":  d.Modifiers.Armor,
		"attack": d.Modifiers.Attack,
		"speed":  d.Modifiers.Speed,
	} {
		if v > maxModifier || v < -maxModifier {
			return fmt.Errorf("agent %s: %s modifier %d outside ±%d", d.ID, name, v, maxModifier)
		}
	}
	return nil
}

// IsZero reports whether no modifier is set.
func (m Modifiers) IsZero() bool {
	return m == Modifiers{}
}

// Agent is a match participant. Identity fields never change after creation;
// combat fields are mutated by the turn pipeline only.
type Agent struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Wallet    string    `json:"wallet,omitempty"`
	External  bool      `json:"external"`
	Modifiers Modifiers `json:"modifiers"`

	HP         int       `json:"hp"`
	MaxHP      int       `json:"maxHp"`
	Alive      bool      `json:"alive"`
	TurnsAlive int       `json:"turnsAlive"`
	LastAction *Decision `json:"lastAction,omitempty"`

	strategy Strategy
}

// newAgent snapshots a descriptor into a fresh participant at full health.
func newAgent(d AgentDescriptor, hpCap int) *Agent {
	maxHP := hpCap + d.Modifiers.Health
	if maxHP < 1 {
		maxHP = 1
	}
	return &Agent{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Wallet:    d.Wallet,
		External:  d.External,
		Modifiers: d.Modifiers,
		HP:        maxHP,
		MaxHP:     maxHP,
		Alive:     true,
		strategy:  d.Strategy,
	}
}

// Heal restores HP without exceeding MaxHP. Dead or depleted agents are skipped.
func (a *Agent) Heal(amount int) int {
	if !a.Alive || a.HP <= 0 || amount <= 0 {
		return 0
	}
	before := a.HP
	a.HP += amount
	if a.HP > a.MaxHP {
		a.HP = a.MaxHP
	}
	return a.HP - before
}

// markDeadIfDepleted flips Alive exactly once when HP reaches zero.
func (a *Agent) markDeadIfDepleted() bool {
	if !a.Alive || a.HP > 0 {
		return false
	}
	a.Alive = false
	a.HP = 0
	return true
}

// clone returns a copy without the strategy capability.
func (a *Agent) clone() Agent {
	c := *a
	c.strategy = nil
	if a.LastAction != nil {
		d := a.LastAction.clone()
		c.LastAction = &d
	}
	return c
}

// PublicStats is what opponents may see about an agent.
type PublicStats struct {
	ID         string `json:"id"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"maxHp"`
	Alive      bool   `json:"alive"`
	External   bool   `json:"external"`
	TurnsAlive int    `json:"turnsAlive"`
}

func (a *Agent) publicStats() PublicStats {
	return PublicStats{
		ID:         a.ID,
		HP:         a.HP,
		MaxHP:      a.MaxHP,
		Alive:      a.Alive,
		External:   a.External,
		TurnsAlive: a.TurnsAlive,
	}
}
