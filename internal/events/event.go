// Package events carries the notifications emitted by the match engine and the
// arena lifecycle manager to whoever consumes them (audit log, metrics, sockets).
package events

import (
	"fmt"
	"time"
)

// Type enum for event classification
type Type uint8

const (
	TypeUnknown Type = iota
	TypeArenaCreated
	TypeAgentJoined
	TypeAgentLeft
	TypeCountdownStarted
	TypeMatchLaunching
	TypeMatchStarted
	TypeTurnCompleted
	TypeDecisionDefaulted
	TypeAllianceFormed
	TypeBetrayal
	TypeAgentDied
	TypeMatchEnded
	TypePrizeDistributed
	TypeMatchCompleted
	TypeMatchError
)

// Version for backwards compatibility of the audit log
const Version uint8 = 1

var typeNames = map[Type]string{
	TypeArenaCreated:      "arena_created",
	TypeAgentJoined:       "agent_joined",
	TypeAgentLeft:         "agent_left",
	TypeCountdownStarted:  "countdown_started",
	TypeMatchLaunching:    "match_launching",
	TypeMatchStarted:      "match_started",
	TypeTurnCompleted:     "turn_completed",
	TypeDecisionDefaulted: "decision_defaulted",
	TypeAllianceFormed:    "alliance_formed",
	TypeBetrayal:          "betrayal",
	TypeAgentDied:         "agent_died",
	TypeMatchEnded:        "match_ended",
	TypePrizeDistributed:  "prize_distributed",
	TypeMatchCompleted:    "match_completed",
	TypeMatchError:        "match_error",
}

// String returns human-readable event type
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the type by name so logs and sockets stay readable.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type name written by MarshalText.
func (t *Type) UnmarshalText(b []byte) error {
	for k, v := range typeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", b)
}

// Event is a single notification. Payload is one of the typed payloads below.
type Event struct {
	Version   uint8     `json:"version"`
	Type      Type      `json:"type"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	ArenaID   string    `json:"arenaId,omitempty"`
	MatchID   string    `json:"matchId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// New creates an event; the bus stamps sequence and timestamp on publish.
func New(t Type, arenaID, matchID, agentID string, payload any) Event {
	return Event{
		Version: Version,
		Type:    t,
		ArenaID: arenaID,
		MatchID: matchID,
		AgentID: agentID,
		Payload: payload,
	}
}

// Typed payloads for different event types

// ArenaPayload describes an arena at the time of the event.
type ArenaPayload struct {
	Tier      string `json:"tier"`
	Status    string `json:"status"`
	Agents    int    `json:"agents"`
	PrizePool int64  `json:"prizePool"`
}

// CountdownPayload is attached to countdown_started.
type CountdownPayload struct {
	Seconds float64 `json:"seconds"`
	Agents  int     `json:"agents"`
}

// MatchStartedPayload lists the participants of a new match.
type MatchStartedPayload struct {
	Agents    []string `json:"agents"`
	PrizePool int64    `json:"prizePool"`
}

// TurnPayload summarises a completed turn.
type TurnPayload struct {
	Turn      int           `json:"turn"`
	Alive     int           `json:"alive"`
	Events    int           `json:"events"`
	Defaulted int           `json:"defaulted"`
	Duration  time.Duration `json:"durationNs"`
}

// DecisionDefaultedPayload explains why a participant was forced to defend.
type DecisionDefaultedPayload struct {
	Turn   int    `json:"turn"`
	Reason string `json:"reason"`
}

// AlliancePayload is attached to alliance_formed and betrayal.
type AlliancePayload struct {
	AllianceID string         `json:"allianceId"`
	Members    []string       `json:"members"`
	Shares     map[string]int `json:"shares,omitempty"`
	Target     string         `json:"target,omitempty"`
	Damage     int            `json:"damage,omitempty"`
}

// DeathPayload is attached to agent_died.
type DeathPayload struct {
	Turn int `json:"turn"`
}

// MatchEndedPayload is attached to match_ended and match_completed.
type MatchEndedPayload struct {
	WinnerID   string `json:"winnerId,omitempty"`
	Reason     string `json:"reason"`
	TotalTurns int    `json:"totalTurns"`
}

// PrizePayload is attached to prize_distributed, one event per payout.
type PrizePayload struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// ErrorPayload is attached to match_error.
type ErrorPayload struct {
	Error string `json:"error"`
}
