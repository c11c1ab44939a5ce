package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"agent-arena/internal/config"
	"agent-arena/internal/events"
)

func always(d Decision) Strategy {
	return StrategyFunc(func(context.Context, GameView) (Decision, error) { return d, nil })
}

func scripted(fn func(GameView) Decision) Strategy {
	return StrategyFunc(func(_ context.Context, v GameView) (Decision, error) { return fn(v), nil })
}

func desc(id string, s Strategy) AgentDescriptor {
	return AgentDescriptor{ID: id, OwnerID: "owner-" + id, Strategy: s}
}

func modded(id string, s Strategy, mods Modifiers) AgentDescriptor {
	d := desc(id, s)
	d.Modifiers = mods
	return d
}

func newTestEngine(t *testing.T) (*Engine, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	return NewEngine(EngineConfig{Rules: config.DefaultMatch(), Publisher: rec}), rec
}

func runToEnd(t *testing.T, e *Engine, m *Match) {
	t.Helper()
	for m.IsActive() {
		if len(m.History) > e.Rules().MaxTurns {
			t.Fatalf("match did not end within %d turns", e.Rules().MaxTurns)
		}
		if _, err := e.ExecuteTurn(context.Background(), m); err != nil {
			t.Fatalf("ExecuteTurn: %v", err)
		}
	}
}

func TestNewMatchValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	def := always(Defend())

	tests := []struct {
		name   string
		agents []AgentDescriptor
		want   error
	}{
		{"one agent", []AgentDescriptor{desc("a", def)}, ErrTooFewAgents},
		{"duplicate", []AgentDescriptor{desc("a", def), desc("a", def)}, ErrDuplicateAgent},
		{"missing strategy", []AgentDescriptor{desc("a", def), desc("b", nil)}, ErrInvalidAgent},
		{"missing id", []AgentDescriptor{desc("a", def), desc("", def)}, ErrInvalidAgent},
		{"modifier above bound", []AgentDescriptor{desc("a", def), modded("b", def, Modifiers{Attack: 100000})}, ErrInvalidAgent},
		{"health above bound", []AgentDescriptor{desc("a", def), modded("b", def, Modifiers{Health: 51})}, ErrInvalidAgent},
		{"modifier below bound", []AgentDescriptor{desc("a", def), modded("b", def, Modifiers{Armor: -51})}, ErrInvalidAgent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.NewMatch("arena", tt.agents, 0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if m != nil {
				t.Error("no match should be created on error")
			}
		})
	}

	many := make([]AgentDescriptor, e.Rules().MaxAgents+1)
	for i := range many {
		many[i] = desc(string(rune('A'+i%26))+string(rune('a'+i/26)), def)
	}
	if _, err := e.NewMatch("arena", many, 0); !errors.Is(err, ErrTooManyAgents) {
		t.Errorf("expected ErrTooManyAgents, got %v", err)
	}
}

func TestNewMatchInitialState(t *testing.T) {
	e, rec := newTestEngine(t)
	tough := desc("tough", always(Defend()))
	tough.Modifiers.Health = 20

	m, err := e.NewMatch("arena-1", []AgentDescriptor{desc("a", always(Defend())), tough}, 250)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	if m.ID == "" || m.ArenaID != "arena-1" {
		t.Errorf("unexpected identity %q/%q", m.ID, m.ArenaID)
	}
	if m.Turn != 1 || m.Status != MatchActive || len(m.History) != 0 {
		t.Errorf("expected turn 1 active with empty history, got %d %s %d", m.Turn, m.Status, len(m.History))
	}
	if a := m.Agent("a"); a.HP != 100 || a.MaxHP != 100 || !a.Alive {
		t.Errorf("agent a not at full health: %+v", a)
	}
	if a := m.Agent("tough"); a.HP != 120 || a.MaxHP != 120 {
		t.Errorf("health modifier not applied: %+v", a)
	}
	if got := rec.OfType(events.TypeMatchStarted); len(got) != 1 {
		t.Errorf("expected one match_started event, got %d", len(got))
	}
}

// Attacker versus a permanent defender: 10 damage, 5 recovery per turn.
func TestAttackVersusDefender(t *testing.T) {
	e, rec := newTestEngine(t)
	m, err := e.NewMatch("arena", []AgentDescriptor{
		desc("a1", always(Attack("a2"))),
		desc("a2", always(Defend())),
	}, 0)
	if err != nil {
		t.Fatal(err)
	}

	first, err := e.ExecuteTurn(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if first.Turn != 1 {
		t.Errorf("first record should be turn 1, got %d", first.Turn)
	}
	if hp := m.Agent("a2").HP; hp != 95 {
		t.Errorf("expected 95 HP after one turn, got %d", hp)
	}
	if hp := m.Agent("a1").HP; hp != 100 {
		t.Errorf("attacker should stay at cap, got %d", hp)
	}

	// Net loss is 5 per turn, so turn 19 starts at 10 and is lethal.
	for m.Turn < 19 {
		if _, err := e.ExecuteTurn(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}
	if hp := m.Agent("a2").HP; hp != 10 || !m.IsActive() {
		t.Fatalf("expected 10 HP after turn 18, got %d (status %s)", hp, m.Status)
	}

	runToEnd(t, e, m)

	if m.WinnerID != "a1" || m.EndReason != EndLastStanding {
		t.Errorf("expected a1 last standing, got %q (%s)", m.WinnerID, m.EndReason)
	}
	if len(m.History) != 19 {
		t.Errorf("expected 19 turns, got %d", len(m.History))
	}
	loser := m.Agent("a2")
	if loser.Alive || loser.HP != 0 {
		t.Errorf("loser should be dead at 0 HP: %+v", loser)
	}
	if len(m.Payouts) != 0 {
		t.Errorf("empty pool should pay nothing, got %+v", m.Payouts)
	}
	if got := rec.OfType(events.TypeMatchEnded); len(got) != 1 {
		t.Errorf("expected one match_ended event, got %d", len(got))
	}
	if got := rec.OfType(events.TypeAgentDied); len(got) != 1 || got[0].AgentID != "a2" {
		t.Errorf("expected a2 death event, got %+v", got)
	}

	last := m.History[len(m.History)-1]
	end := last.Events[len(last.Events)-1]
	if end.Type != TurnEventMatchEnd || end.WinnerID != "a1" {
		t.Errorf("last event should be match_end for a1, got %+v", end)
	}
}

func TestTurnNumberingAndHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Defend())),
		desc("b", always(Defend())),
	}, 0)

	for i := 1; i <= 4; i++ {
		rec, err := e.ExecuteTurn(context.Background(), m)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Turn != i {
			t.Errorf("record %d has turn %d", i, rec.Turn)
		}
		if len(rec.Decisions) != 2 {
			t.Errorf("expected a decision per living agent, got %d", len(rec.Decisions))
		}
	}
	if m.Turn != 5 {
		t.Errorf("expected current turn 5, got %d", m.Turn)
	}
	for i, r := range m.History {
		if r.Turn != i+1 {
			t.Errorf("history[%d].Turn = %d", i, r.Turn)
		}
	}
	if m.Agent("a").TurnsAlive != 4 {
		t.Errorf("expected 4 turns alive, got %d", m.Agent("a").TurnsAlive)
	}
}

func TestAllianceThenBetrayal(t *testing.T) {
	e, rec := newTestEngine(t)

	a := scripted(func(v GameView) Decision {
		if v.Turn == 1 {
			return ProposeAlliance("b", map[string]int{"a": 70, "b": 30})
		}
		return Defend()
	})
	b := scripted(func(v GameView) Decision {
		switch v.Turn {
		case 2:
			if len(v.Proposals) == 1 {
				return AcceptAlliance(v.Proposals[0].From)
			}
		case 3:
			if al, ok := v.AllianceWith("a"); ok {
				return BetrayAlliance(al.ID, "a")
			}
		}
		return Defend()
	})

	armored := desc("a", a)
	armored.Modifiers.Armor = 30
	m, err := e.NewMatch("arena", []AgentDescriptor{armored, desc("b", b)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := e.ExecuteTurn(ctx, m); err != nil {
		t.Fatal(err)
	}
	if p := m.Alliances.Pending(); len(p) != 1 || p[0].Terms["a"] != 70 {
		t.Fatalf("expected pending 70/30 proposal, got %+v", p)
	}

	if _, err := e.ExecuteTurn(ctx, m); err != nil {
		t.Fatal(err)
	}
	active := m.Alliances.Active()
	if len(active) != 1 || active[0].Shares["b"] != 30 {
		t.Fatalf("expected active alliance with b at 30, got %+v", active)
	}
	if len(m.Alliances.Pending()) != 0 {
		t.Error("accepted proposal should be consumed")
	}

	turn3, err := e.ExecuteTurn(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Alliances.Active()) != 0 {
		t.Error("betrayed alliance still active")
	}
	// a defended with 30 armor, but betrayal strikes at full damage.
	if hp := m.Agent("a").HP; hp != 85 {
		t.Errorf("expected 100-20+5 = 85, got %d", hp)
	}
	var found bool
	for _, ev := range turn3.Events {
		if ev.Type == TurnEventBetrayal {
			found = true
			if ev.Damage != 20 || ev.AllianceID != active[0].ID {
				t.Errorf("unexpected betrayal event %+v", ev)
			}
		}
	}
	if !found {
		t.Error("turn 3 has no betrayal event")
	}
	if len(rec.OfType(events.TypeAllianceFormed)) != 1 || len(rec.OfType(events.TypeBetrayal)) != 1 {
		t.Error("expected alliance_formed and betrayal bus events")
	}
}

func TestMutualAttacksBothLand(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Attack("b"))),
		desc("b", always(Attack("a"))),
	}, 0)

	if _, err := e.ExecuteTurn(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if m.Agent("a").HP != 85 || m.Agent("b").HP != 85 {
		t.Errorf("expected both at 85, got %d/%d", m.Agent("a").HP, m.Agent("b").HP)
	}
}

func TestSimultaneousDeathIsDraw(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Attack("b"))),
		desc("b", always(Attack("a"))),
	}, 100)
	m.Agent("a").HP = 15
	m.Agent("b").HP = 15

	if _, err := e.ExecuteTurn(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if m.IsActive() {
		t.Fatal("match should be over")
	}
	if m.WinnerID != "" || m.EndReason != EndDraw {
		t.Errorf("expected draw, got %q (%s)", m.WinnerID, m.EndReason)
	}
	if len(m.Payouts) != 0 {
		t.Errorf("draw should pay nothing, got %+v", m.Payouts)
	}
	for _, a := range m.Agents {
		if a.HP != 0 || a.Alive {
			t.Errorf("agent %s should be dead at 0 HP: %+v", a.ID, a)
		}
	}
}

func TestHPStaysWithinBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Attack("b"))),
		desc("b", always(Attack("c"))),
		desc("c", always(Attack("a"))),
		desc("d", always(Defend())),
	}, 0)

	ctx := context.Background()
	for m.IsActive() && len(m.History) < 50 {
		if _, err := e.ExecuteTurn(ctx, m); err != nil {
			t.Fatal(err)
		}
		for _, a := range m.Agents {
			if a.HP < 0 || a.HP > a.MaxHP {
				t.Fatalf("turn %d: agent %s HP %d outside [0,%d]", m.Turn, a.ID, a.HP, a.MaxHP)
			}
			if a.Alive != (a.HP > 0) {
				t.Fatalf("turn %d: agent %s alive=%v with HP %d", m.Turn, a.ID, a.Alive, a.HP)
			}
		}
	}
}

func TestDeadAgentsStopDeciding(t *testing.T) {
	e, _ := newTestEngine(t)
	var mu sync.Mutex
	calls := map[string]int{}
	counting := func(id string, d Decision) Strategy {
		return StrategyFunc(func(context.Context, GameView) (Decision, error) {
			mu.Lock()
			calls[id]++
			mu.Unlock()
			return d, nil
		})
	}
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", counting("a", Attack("b"))),
		desc("b", counting("b", Defend())),
		desc("c", counting("c", Defend())),
	}, 0)
	m.Agent("b").HP = 5

	ctx := context.Background()
	if _, err := e.ExecuteTurn(ctx, m); err != nil {
		t.Fatal(err)
	}
	if m.Agent("b").Alive {
		t.Fatal("b should have died")
	}
	rec, err := e.ExecuteTurn(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rec.Decisions["b"]; ok {
		t.Error("dead agent has a decision recorded")
	}
	if calls["b"] != 1 {
		t.Errorf("dead agent consulted %d times", calls["b"])
	}
}

func TestExecuteTurnOnCompletedMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Attack("b"))),
		desc("b", always(Defend())),
	}, 0)
	runToEnd(t, e, m)

	if _, err := e.ExecuteTurn(context.Background(), m); !errors.Is(err, ErrMatchNotActive) {
		t.Errorf("expected ErrMatchNotActive, got %v", err)
	}
	if err := e.ForceEnd(m); !errors.Is(err, ErrMatchNotActive) {
		t.Errorf("expected ErrMatchNotActive from ForceEnd, got %v", err)
	}
}

func TestForceEndPicksHighestHP(t *testing.T) {
	e, rec := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Defend())),
		desc("b", always(Defend())),
		desc("c", always(Defend())),
	}, 90)

	if _, err := e.ExecuteTurn(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	m.Agent("a").HP = 40
	m.Agent("b").HP = 70
	m.Agent("c").HP = 70

	if err := e.ForceEnd(m); err != nil {
		t.Fatal(err)
	}
	if m.WinnerID != "b" || m.EndReason != EndTurnLimit {
		t.Errorf("expected b by turn limit, got %q (%s)", m.WinnerID, m.EndReason)
	}
	if m.Status != MatchCompleted {
		t.Error("match should be completed")
	}
	if len(m.History) != 1 || m.Turn != 1 {
		t.Errorf("force end should not add a turn: history %d, turn %d", len(m.History), m.Turn)
	}
	evs := m.History[0].Events
	if evs[len(evs)-1].Type != TurnEventMatchEnd {
		t.Error("match_end not appended to last record")
	}
	if len(m.Payouts) != 1 || m.Payouts[0].AgentID != "b" || m.Payouts[0].Amount != 90 {
		t.Errorf("unexpected payouts %+v", m.Payouts)
	}
	if got := rec.OfType(events.TypePrizeDistributed); len(got) != 1 {
		t.Errorf("expected one prize event, got %d", len(got))
	}
}

func TestCompletionClearsAlliances(t *testing.T) {
	e, _ := newTestEngine(t)
	m, _ := e.NewMatch("arena", []AgentDescriptor{
		desc("a", always(Defend())),
		desc("b", always(Defend())),
	}, 0)
	m.Alliances.Propose("a", "b", nil, 1)
	m.Alliances.Accept("b", "a", 1)
	m.Alliances.Propose("b", "a", nil, 1)

	if err := e.ForceEnd(m); err != nil {
		t.Fatal(err)
	}
	if len(m.Alliances.Active()) != 0 || len(m.Alliances.Pending()) != 0 {
		t.Error("alliances and proposals should be cleared at completion")
	}
}
