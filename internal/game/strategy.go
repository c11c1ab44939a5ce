package game

import "context"

// Strategy is an agent's decision capability. Implementations may block; the
// collector bounds every call with the decision timeout carried by ctx.
type Strategy interface {
	Decide(ctx context.Context, view GameView) (Decision, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, view GameView) (Decision, error)

// Decide implements Strategy.
func (f StrategyFunc) Decide(ctx context.Context, view GameView) (Decision, error) {
	return f(ctx, view)
}

// GameView is the read-only, participant-scoped state handed to a Strategy.
// Agents and alliances are copies; History shares the match's append-only
// turn records and must be treated as read-only.
type GameView struct {
	MatchID   string        `json:"matchId"`
	Turn      int           `json:"turn"`
	Self      Agent         `json:"self"`
	Opponents []PublicStats `json:"opponents"`
	Alliances []Alliance    `json:"alliances"`
	Proposals []Proposal    `json:"proposals"` // pending proposals addressed to Self
	PrizePool int64         `json:"prizePool"`
	History   []TurnRecord  `json:"history"`
}

// AliveOpponents filters Opponents down to living ones.
func (v GameView) AliveOpponents() []PublicStats {
	out := make([]PublicStats, 0, len(v.Opponents))
	for _, o := range v.Opponents {
		if o.Alive {
			out = append(out, o)
		}
	}
	return out
}

// AllianceWith returns the first alliance Self shares with other.
func (v GameView) AllianceWith(other string) (Alliance, bool) {
	for _, a := range v.Alliances {
		if a.Has(v.Self.ID) && a.Has(other) {
			return a, true
		}
	}
	return Alliance{}, false
}

// buildView assembles the view for one participant. Must be called before the
// collector fans out so strategies never touch live match state.
func buildView(m *Match, self *Agent, window int) GameView {
	view := GameView{
		MatchID:   m.ID,
		Turn:      m.Turn,
		Self:      self.clone(),
		Opponents: make([]PublicStats, 0, len(m.Agents)-1),
		Alliances: m.Alliances.Active(),
		Proposals: m.Alliances.ProposalsFor(self.ID),
		PrizePool: m.PrizePool,
	}
	for _, a := range m.Agents {
		if a.ID != self.ID {
			view.Opponents = append(view.Opponents, a.publicStats())
		}
	}

	start := len(m.History) - window
	if start < 0 {
		start = 0
	}
	// Turn records are never mutated after append, so sharing them is safe.
	view.History = append([]TurnRecord(nil), m.History[start:]...)
	return view
}
