package game

import (
	"fmt"
	"time"
)

// MatchStatus is the match state machine: active -> completed.
type MatchStatus string

const (
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

// End reasons recorded on completion.
const (
	EndLastStanding = "last_standing"
	EndDraw         = "draw"
	EndTurnLimit    = "turn_limit"
)

// TurnEventType enum for combat log classification
type TurnEventType uint8

const (
	TurnEventUnknown TurnEventType = iota
	TurnEventDefend
	TurnEventPropose
	TurnEventAllianceFormed
	TurnEventAttack
	TurnEventBetrayal
	TurnEventRecovery
	TurnEventDeath
	TurnEventMatchEnd
)

var turnEventNames = map[TurnEventType]string{
	TurnEventDefend:         "defend",
	TurnEventPropose:        "propose",
	TurnEventAllianceFormed: "alliance_formed",
	TurnEventAttack:         "attack",
	TurnEventBetrayal:       "betrayal",
	TurnEventRecovery:       "recovery",
	TurnEventDeath:          "death",
	TurnEventMatchEnd:       "match_end",
}

// String returns human-readable event type
func (t TurnEventType) String() string {
	if name, ok := turnEventNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the type by name.
func (t TurnEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name written by MarshalText.
func (t *TurnEventType) UnmarshalText(b []byte) error {
	for k, v := range turnEventNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown turn event %q", b)
}

// TurnEvent is one structured entry of the combat log. Fields not relevant to
// Type are left empty.
type TurnEvent struct {
	Type       TurnEventType  `json:"type"`
	Actor      string         `json:"actor,omitempty"`
	Target     string         `json:"target,omitempty"`
	Damage     int            `json:"damage,omitempty"`
	Amount     int            `json:"amount,omitempty"`
	HP         int            `json:"hp,omitempty"`
	Defended   bool           `json:"defended,omitempty"`
	AllianceID string         `json:"allianceId,omitempty"`
	Terms      map[string]int `json:"terms,omitempty"`
	WinnerID   string         `json:"winnerId,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// TurnRecord is the immutable log of one turn.
type TurnRecord struct {
	Turn      int                 `json:"turn"`
	Decisions map[string]Decision `json:"decisions"`
	Defaulted map[string]string   `json:"defaulted,omitempty"` // agent id -> reason
	Events    []TurnEvent         `json:"events"`
}

// Match is a single combat among participants. It is owned by exactly one
// runner goroutine; other readers use Snapshot.
type Match struct {
	ID        string
	ArenaID   string
	Agents    []*Agent
	Turn      int
	Status    MatchStatus
	Alliances *AllianceLedger
	History   []TurnRecord
	PrizePool int64
	WinnerID  string
	EndReason string
	Payouts   []Payout
	CreatedAt time.Time
	EndedAt   time.Time

	index  map[string]*Agent
	roster map[string]bool
}

// Agent returns the participant with id, or nil.
func (m *Match) Agent(id string) *Agent {
	return m.index[id]
}

// AliveAgents returns living participants in roster order.
func (m *Match) AliveAgents() []*Agent {
	out := make([]*Agent, 0, len(m.Agents))
	for _, a := range m.Agents {
		if a.Alive {
			out = append(out, a)
		}
	}
	return out
}

// IsActive reports whether the match still accepts turns.
func (m *Match) IsActive() bool {
	return m.Status == MatchActive
}

// MatchResult is the observable outcome of a completed match.
type MatchResult struct {
	MatchID    string       `json:"matchId"`
	ArenaID    string       `json:"arenaId"`
	Status     MatchStatus  `json:"status"`
	TotalTurns int          `json:"totalTurns"`
	WinnerID   string       `json:"winnerId,omitempty"`
	EndReason  string       `json:"endReason"`
	PrizePool  int64        `json:"prizePool"`
	Payouts    []Payout     `json:"payouts"`
	Agents     []Agent      `json:"agents"`
	History    []TurnRecord `json:"history"`
	CreatedAt  time.Time    `json:"createdAt"`
	EndedAt    time.Time    `json:"endedAt"`
}

// Result returns the outcome of the match.
func (m *Match) Result() *MatchResult {
	agents := make([]Agent, 0, len(m.Agents))
	for _, a := range m.Agents {
		agents = append(agents, a.clone())
	}
	return &MatchResult{
		MatchID:    m.ID,
		ArenaID:    m.ArenaID,
		Status:     m.Status,
		TotalTurns: len(m.History),
		WinnerID:   m.WinnerID,
		EndReason:  m.EndReason,
		PrizePool:  m.PrizePool,
		Payouts:    append([]Payout(nil), m.Payouts...),
		Agents:     agents,
		History:    append([]TurnRecord(nil), m.History...),
		CreatedAt:  m.CreatedAt,
		EndedAt:    m.EndedAt,
	}
}
