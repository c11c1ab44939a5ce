package arena

import (
	"errors"
	"time"

	"agent-arena/internal/game"
)

var (
	ErrArenaNotFound   = errors.New("arena not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrNotAccepting    = errors.New("arena is not accepting agents")
	ErrArenaFull       = errors.New("arena is full")
	ErrAlreadyJoined   = errors.New("agent already joined")
	ErrNotInLobby      = errors.New("agent is not in the lobby")
	ErrMatchInProgress = errors.New("match in progress")
	ErrUnknownTier     = errors.New("unknown tier")
	ErrShuttingDown    = errors.New("arena manager is shutting down")
	ErrNotOwner        = errors.New("agent belongs to another owner")
)

// Status is the arena state machine:
// open -> lobby -> in_progress -> completed | error.
type Status string

const (
	StatusOpen       Status = "open"
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Accepting reports whether agents may join or leave.
func (s Status) Accepting() bool {
	return s == StatusOpen || s == StatusLobby
}

// Terminal reports whether the arena has finished for good.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// arena is the mutable lobby state owned by the Manager. All fields are
// guarded by Manager.mu.
type arena struct {
	id          string
	tier        string
	displayName string
	entryFee    int64
	minAgents   int
	maxAgents   int
	status      Status
	agents      []game.AgentDescriptor
	prizePool   int64
	matchID     string
	err         error
	createdAt   time.Time

	countdown *countdown

	// done is closed once the arena reaches a terminal status.
	done   chan struct{}
	result *game.MatchResult
}

func (a *arena) indexOf(agentID string) int {
	for i, d := range a.agents {
		if d.ID == agentID {
			return i
		}
	}
	return -1
}

func (a *arena) info() Info {
	ids := make([]string, len(a.agents))
	for i, d := range a.agents {
		ids[i] = d.ID
	}
	out := Info{
		ID:          a.id,
		Tier:        a.tier,
		DisplayName: a.displayName,
		EntryFee:    a.entryFee,
		MinAgents:   a.minAgents,
		MaxAgents:   a.maxAgents,
		Status:      a.status,
		Agents:      ids,
		PrizePool:   a.prizePool,
		MatchID:     a.matchID,
		CreatedAt:   a.createdAt,
	}
	if a.countdown != nil {
		out.CountdownEndsAt = a.countdown.endsAt
	}
	if a.err != nil {
		out.Error = a.err.Error()
	}
	return out
}

// Info is a read-only copy of an arena for API and CLI consumers.
type Info struct {
	ID              string    `json:"id"`
	Tier            string    `json:"tier"`
	DisplayName     string    `json:"displayName"`
	EntryFee        int64     `json:"entryFee"`
	MinAgents       int       `json:"minAgents"`
	MaxAgents       int       `json:"maxAgents"`
	Status          Status    `json:"status"`
	Agents          []string  `json:"agents"`
	PrizePool       int64     `json:"prizePool"`
	MatchID         string    `json:"matchId,omitempty"`
	CountdownEndsAt time.Time `json:"countdownEndsAt,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
