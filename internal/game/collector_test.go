package game

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newCollectorMatch(t *testing.T, agents ...AgentDescriptor) *Match {
	t.Helper()
	e, _ := newTestEngine(t)
	m, err := e.NewMatch("arena", agents, 0)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	return m
}

// A strategy that never answers is defaulted without holding up the others.
func TestCollectHungStrategy(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	hung := StrategyFunc(func(context.Context, GameView) (Decision, error) {
		<-release
		return Attack("fast"), nil
	})
	m := newCollectorMatch(t,
		desc("hung", hung),
		desc("fast", always(Attack("hung"))),
	)

	c := NewCollector(50*time.Millisecond, 5, nil)
	start := time.Now()
	got := c.Collect(context.Background(), m)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("collection took %v, should be bounded by the timeout", elapsed)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(got))
	}
	if got[0].AgentID != "hung" || !got[0].Defaulted || got[0].Reason != DefaultTimeout {
		t.Errorf("hung agent should default on timeout: %+v", got[0])
	}
	if got[0].Decision.Kind != DecisionDefend {
		t.Errorf("hung agent should defend, got %s", got[0].Decision.Kind)
	}
	if got[1].Defaulted || got[1].Decision.Kind != DecisionAttack {
		t.Errorf("fast agent decision lost: %+v", got[1])
	}
	if got[1].Elapsed > 40*time.Millisecond {
		t.Errorf("fast agent was delayed: %v", got[1].Elapsed)
	}
}

func TestCollectDefaults(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		strategy Strategy
		reason   string
	}{
		{"error", StrategyFunc(func(context.Context, GameView) (Decision, error) { return Decision{}, boom }), DefaultError},
		{"panic", StrategyFunc(func(context.Context, GameView) (Decision, error) { panic("bad strategy") }), DefaultPanic},
		{"self target", always(Attack("subject")), DefaultInvalid},
		{"unknown target", always(Attack("ghost")), DefaultInvalid},
		{"empty action", always(Decision{}), DefaultInvalid},
		{"unknown action", always(Decision{Kind: "dance"}), DefaultInvalid},
		{"betray without alliance", always(BetrayAlliance("", "other")), DefaultInvalid},
		{"ctx deadline error", StrategyFunc(func(ctx context.Context, _ GameView) (Decision, error) {
			<-ctx.Done()
			return Decision{}, ctx.Err()
		}), DefaultTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newCollectorMatch(t, desc("subject", tt.strategy), desc("other", always(Defend())))
			c := NewCollector(50*time.Millisecond, 5, nil)

			got := c.Collect(context.Background(), m)[0]
			if !got.Defaulted || got.Reason != tt.reason {
				t.Errorf("expected default %q, got %+v", tt.reason, got)
			}
			if got.Decision.Kind != DecisionDefend {
				t.Errorf("expected defend, got %s", got.Decision.Kind)
			}
			if la := m.Agent("subject").LastAction; la == nil || la.Kind != DecisionDefend {
				t.Errorf("LastAction should record the substituted defend, got %+v", la)
			}
		})
	}
}

func TestCollectSkipsDeadAgents(t *testing.T) {
	m := newCollectorMatch(t,
		desc("a", always(Defend())),
		desc("b", always(Defend())),
		desc("c", always(Defend())),
	)
	m.Agent("b").Alive = false
	m.Agent("b").HP = 0

	got := NewCollector(time.Second, 5, nil).Collect(context.Background(), m)
	if len(got) != 2 || got[0].AgentID != "a" || got[1].AgentID != "c" {
		t.Errorf("expected a and c in roster order, got %+v", got)
	}
}

func TestCollectIgnoresCallerCancellation(t *testing.T) {
	m := newCollectorMatch(t, desc("a", always(Attack("b"))), desc("b", always(Defend())))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewCollector(time.Second, 5, nil).Collect(ctx, m)
	if got[0].Defaulted {
		t.Errorf("cancelled caller context should not default decisions: %+v", got[0])
	}
}

func TestViewIsScopedToParticipant(t *testing.T) {
	var seen GameView
	spy := StrategyFunc(func(_ context.Context, v GameView) (Decision, error) {
		seen = v
		return Defend(), nil
	})
	m := newCollectorMatch(t, desc("spy", spy), desc("x", always(Defend())), desc("y", always(Defend())))
	m.Alliances.Propose("x", "spy", nil, 1)
	m.Alliances.Propose("x", "y", nil, 1)
	for i := 0; i < 8; i++ {
		m.History = append(m.History, TurnRecord{Turn: i + 1})
	}
	m.Turn = 9

	NewCollector(time.Second, 5, nil).Collect(context.Background(), m)

	if seen.Self.ID != "spy" || seen.Turn != 9 {
		t.Errorf("unexpected self/turn: %s/%d", seen.Self.ID, seen.Turn)
	}
	if len(seen.Opponents) != 2 {
		t.Errorf("expected 2 opponents, got %d", len(seen.Opponents))
	}
	if len(seen.Proposals) != 1 || seen.Proposals[0].From != "x" {
		t.Errorf("expected only the proposal addressed to spy, got %+v", seen.Proposals)
	}
	if len(seen.History) != 5 || seen.History[0].Turn != 4 {
		t.Errorf("expected last 5 turns starting at 4, got %d records", len(seen.History))
	}

	seen.Self.HP = -100
	if m.Agent("spy").HP != 100 {
		t.Error("view mutation leaked into match state")
	}
}
