package game

import "agent-arena/internal/events"

// turn holds the working state of one ExecuteTurn call. Every stage walks the
// collected decisions in roster order.
type turn struct {
	engine    *Engine
	match     *Match
	decisions []CollectedDecision
	defending map[string]bool
	events    []TurnEvent
}

func (t *turn) each(kind DecisionKind, fn func(actor string, d Decision)) {
	for _, c := range t.decisions {
		if c.Decision.Kind == kind {
			fn(c.AgentID, c.Decision)
		}
	}
}

// Stage 1
func (t *turn) markDefends() {
	t.each(DecisionDefend, func(actor string, _ Decision) {
		t.defending[actor] = true
		t.events = append(t.events, TurnEvent{Type: TurnEventDefend, Actor: actor})
	})
}

// Stage 2
func (t *turn) queueProposals() {
	t.each(DecisionProposeAlliance, func(actor string, d Decision) {
		p := t.match.Alliances.Propose(actor, d.Target, d.Terms, t.match.Turn)
		t.events = append(t.events, TurnEvent{Type: TurnEventPropose, Actor: actor, Target: d.Target, Terms: p.Terms})
	})
}

// Stage 3
func (t *turn) resolveAlliances() {
	m := t.match
	t.each(DecisionAcceptAlliance, func(actor string, d Decision) {
		alliance, ok := m.Alliances.Accept(actor, d.Proposer, m.Turn)
		if !ok {
			return
		}
		t.events = append(t.events, TurnEvent{
			Type:       TurnEventAllianceFormed,
			Actor:      actor,
			Target:     d.Proposer,
			AllianceID: alliance.ID,
			Terms:      alliance.Shares,
		})
		t.engine.publisher.Publish(events.New(events.TypeAllianceFormed, m.ArenaID, m.ID, actor, events.AlliancePayload{
			AllianceID: alliance.ID,
			Members:    alliance.Members[:],
			Shares:     alliance.Shares,
		}))
	})
}

// Stage 4. Attacks are independent of each other, so mutual attacks both land.
func (t *turn) resolveAttacks() {
	m := t.match
	t.each(DecisionAttack, func(actor string, d Decision) {
		res, ok := t.engine.resolver.Resolve(m.Agent(actor), m.Agent(d.Target), t.defending[d.Target])
		if !ok {
			return
		}
		t.events = append(t.events, TurnEvent{
			Type:     TurnEventAttack,
			Actor:    actor,
			Target:   d.Target,
			Damage:   res.Damage,
			HP:       res.DefenderHP,
			Defended: res.Defended,
		})
	})
}

// Stage 5. The alliance is removed before the strike, which ignores defend
// and armor.
func (t *turn) resolveBetrayals() {
	m := t.match
	t.each(DecisionBetrayAlliance, func(actor string, d Decision) {
		alliance, ok := m.Alliances.Betray(d.AllianceID, actor)
		if !ok {
			return
		}
		ev := TurnEvent{Type: TurnEventBetrayal, Actor: actor, Target: d.Target, AllianceID: alliance.ID}
		if res, hit := t.engine.resolver.Strike(m.Agent(actor), m.Agent(d.Target)); hit {
			ev.Damage = res.Damage
			ev.HP = res.DefenderHP
		}
		t.events = append(t.events, ev)
		t.engine.publisher.Publish(events.New(events.TypeBetrayal, m.ArenaID, m.ID, actor, events.AlliancePayload{
			AllianceID: alliance.ID,
			Members:    alliance.Members[:],
			Target:     d.Target,
			Damage:     ev.Damage,
		}))
	})
}

// Stage 6
func (t *turn) applyRecovery() {
	for _, a := range t.match.Agents {
		if healed := a.Heal(t.engine.rules.Recovery); healed > 0 {
			t.events = append(t.events, TurnEvent{Type: TurnEventRecovery, Actor: a.ID, Amount: healed, HP: a.HP})
		}
	}
}

// Stage 7
func (t *turn) markDeaths() {
	m := t.match
	for _, a := range m.Agents {
		if !a.markDeadIfDepleted() {
			continue
		}
		t.events = append(t.events, TurnEvent{Type: TurnEventDeath, Actor: a.ID})
		t.engine.publisher.Publish(events.New(events.TypeAgentDied, m.ArenaID, m.ID, a.ID, events.DeathPayload{Turn: m.Turn}))
	}
}
