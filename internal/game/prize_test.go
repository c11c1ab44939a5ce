package game

import "testing"

func prizeMatch(t *testing.T, pool int64, agents ...AgentDescriptor) *Match {
	t.Helper()
	e, _ := newTestEngine(t)
	m, err := e.NewMatch("arena", agents, pool)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	return m
}

func external(id string) AgentDescriptor {
	d := desc(id, always(Defend()))
	d.External = true
	return d
}

func amounts(payouts []Payout) map[string]int64 {
	out := make(map[string]int64, len(payouts))
	for _, p := range payouts {
		out[p.AgentID] += p.Amount
	}
	return out
}

// Solo external winner: half the pool is cut and shared by normal agents.
func TestDistributeExternalWinner(t *testing.T) {
	m := prizeMatch(t, 1000,
		external("ext"),
		desc("n1", always(Defend())),
		desc("n2", always(Defend())),
		desc("n3", always(Defend())),
	)

	payouts := PrizeDistributor{ExternalCutPercent: 50}.Distribute(m, "ext")
	got := amounts(payouts)

	if got["ext"] != 500 {
		t.Errorf("winner should get 500, got %d", got["ext"])
	}
	for _, id := range []string{"n1", "n2", "n3"} {
		if got[id] != 166 {
			t.Errorf("%s should get floor(500/3) = 166, got %d", id, got[id])
		}
	}
	if total := TotalPaid(payouts); total != 998 {
		t.Errorf("expected 998 paid with 2 retained, got %d", total)
	}
}

func TestDistributeNormalWinner(t *testing.T) {
	m := prizeMatch(t, 1000, desc("a", always(Defend())), desc("b", always(Defend())))

	payouts := PrizeDistributor{ExternalCutPercent: 50}.Distribute(m, "a")
	if len(payouts) != 1 || payouts[0].Amount != 1000 || payouts[0].Reason != PayoutWinner {
		t.Errorf("unexpected payouts %+v", payouts)
	}
}

func TestDistributeAllianceShares(t *testing.T) {
	m := prizeMatch(t, 1000, desc("a", always(Defend())), desc("b", always(Defend())), desc("c", always(Defend())))
	m.Alliances.Propose("a", "b", map[string]int{"a": 70, "b": 30}, 1)
	m.Alliances.Accept("b", "a", 1)

	// b wins; a is dead but still receives its share.
	m.Agent("a").Alive = false
	payouts := PrizeDistributor{ExternalCutPercent: 50}.Distribute(m, "b")
	got := amounts(payouts)

	if got["a"] != 700 || got["b"] != 300 || got["c"] != 0 {
		t.Errorf("unexpected split %v", got)
	}
	for _, p := range payouts {
		if p.Reason != PayoutAllianceShare {
			t.Errorf("expected alliance_share, got %s", p.Reason)
		}
	}
}

func TestDistributeAllianceWithExternalMember(t *testing.T) {
	m := prizeMatch(t, 1000, desc("a", always(Defend())), external("x"), desc("c", always(Defend())))
	m.Alliances.Propose("a", "x", nil, 1)
	m.Alliances.Accept("x", "a", 1)

	got := amounts(PrizeDistributor{ExternalCutPercent: 50}.Distribute(m, "a"))

	// x: 500 - 250 cut. Fund 250 goes to non-external non-winners: c only.
	if got["a"] != 500 || got["x"] != 250 || got["c"] != 250 {
		t.Errorf("unexpected split %v", got)
	}
}

func TestDistributeNeverExceedsPool(t *testing.T) {
	pools := []int64{0, 1, 7, 99, 1000, 12345}
	for _, pool := range pools {
		m := prizeMatch(t, pool, external("e1"), external("e2"), desc("n1", always(Defend())), desc("n2", always(Defend())))
		m.Alliances.Propose("e1", "n1", map[string]int{"e1": 33, "n1": 67}, 1)
		m.Alliances.Accept("n1", "e1", 1)

		for _, winner := range []string{"e1", "e2", "n1", "n2"} {
			payouts := PrizeDistributor{ExternalCutPercent: 50}.Distribute(m, winner)
			if total := TotalPaid(payouts); total > pool {
				t.Errorf("pool %d winner %s: paid %d", pool, winner, total)
			}
			for _, p := range payouts {
				if p.Amount <= 0 {
					t.Errorf("pool %d winner %s: non-positive payout %+v", pool, winner, p)
				}
			}
		}
	}
}

func TestDistributeDraw(t *testing.T) {
	m := prizeMatch(t, 1000, desc("a", always(Defend())), desc("b", always(Defend())))
	if got := (PrizeDistributor{ExternalCutPercent: 50}).Distribute(m, ""); got != nil {
		t.Errorf("draw should pay nothing, got %+v", got)
	}
}
