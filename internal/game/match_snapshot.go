package game

import (
	"sync/atomic"
	"time"
)

// MatchSnapshot is an immutable copy of match state for readers outside the
// runner goroutine (API handlers, websocket broadcasts).
// Uses value types so nothing aliases live match state.
type MatchSnapshot struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	MatchID   string       `json:"matchId"`
	ArenaID   string       `json:"arenaId"`
	Turn      int          `json:"turn"`
	Status    MatchStatus  `json:"status"`
	Agents    []Agent      `json:"agents"`
	Alliances []Alliance   `json:"alliances"`
	Proposals []Proposal   `json:"proposals"`
	PrizePool int64        `json:"prizePool"`
	WinnerID  string       `json:"winnerId,omitempty"`
	EndReason string       `json:"endReason,omitempty"`
	Payouts   []Payout     `json:"payouts,omitempty"`
	History   []TurnRecord `json:"-"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   time.Time    `json:"endedAt,omitempty"`

	// Aggregate stats
	AgentCount int `json:"agentCount"`
	AliveCount int `json:"aliveCount"`
}

// Snapshot copies the match. Only the runner goroutine may call it.
func (m *Match) Snapshot() *MatchSnapshot {
	snap := &MatchSnapshot{
		Timestamp:  time.Now(),
		MatchID:    m.ID,
		ArenaID:    m.ArenaID,
		Turn:       m.Turn,
		Status:     m.Status,
		Agents:     make([]Agent, 0, len(m.Agents)),
		Alliances:  m.Alliances.Active(),
		Proposals:  m.Alliances.Pending(),
		PrizePool:  m.PrizePool,
		WinnerID:   m.WinnerID,
		EndReason:  m.EndReason,
		Payouts:    append([]Payout(nil), m.Payouts...),
		History:    append([]TurnRecord(nil), m.History...),
		CreatedAt:  m.CreatedAt,
		EndedAt:    m.EndedAt,
		AgentCount: len(m.Agents),
	}
	for _, a := range m.Agents {
		snap.Agents = append(snap.Agents, a.clone())
		if a.Alive {
			snap.AliveCount++
		}
	}
	return snap
}

// SnapshotHolder publishes the latest snapshot of one match for lock-free
// reads. The runner stores, everyone else loads.
type SnapshotHolder struct {
	current  atomic.Pointer[MatchSnapshot]
	sequence atomic.Uint64
}

// Publish stamps and stores a snapshot.
func (h *SnapshotHolder) Publish(s *MatchSnapshot) {
	s.Sequence = h.sequence.Add(1)
	h.current.Store(s)
}

// Load returns the latest snapshot, or nil before the first Publish.
func (h *SnapshotHolder) Load() *MatchSnapshot {
	return h.current.Load()
}
