package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agent-arena/internal/config"
	"agent-arena/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTooFewAgents   = errors.New("not enough agents to start a match")
	ErrTooManyAgents  = errors.New("too many agents for a match")
	ErrDuplicateAgent = errors.New("agent listed twice")
	ErrInvalidAgent   = errors.New("invalid agent")
	ErrMatchNotActive = errors.New("match is not active")
)

// EngineConfig contains the engine's dependencies.
type EngineConfig struct {
	Rules     config.MatchConfig
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Engine runs the turn pipeline. It keeps no per-match state, so one engine
// serves every arena; each match must be driven by a single goroutine.
type Engine struct {
	rules     config.MatchConfig
	collector *Collector
	resolver  Resolver
	prizes    PrizeDistributor
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an engine with the given rules.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	return &Engine{
		rules:     cfg.Rules,
		collector: NewCollector(cfg.Rules.DecisionTimeout, cfg.Rules.HistoryWindow, logger),
		resolver:  NewResolver(cfg.Rules),
		prizes:    PrizeDistributor{ExternalCutPercent: cfg.Rules.ExternalCutPercent},
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

// Rules returns the engine's match rules.
func (e *Engine) Rules() config.MatchConfig {
	return e.rules
}

// NewMatch creates an active match from lobby descriptors. Nothing is created
// when validation fails.
func (e *Engine) NewMatch(arenaID string, agents []AgentDescriptor, prizePool int64) (*Match, error) {
	if len(agents) < e.rules.MinAgents {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewAgents, len(agents), e.rules.MinAgents)
	}
	if len(agents) > e.rules.MaxAgents {
		return nil, fmt.Errorf("%w: have %d, max %d", ErrTooManyAgents, len(agents), e.rules.MaxAgents)
	}

	m := &Match{
		ID:        uuid.NewString(),
		ArenaID:   arenaID,
		Agents:    make([]*Agent, 0, len(agents)),
		Turn:      1,
		Status:    MatchActive,
		Alliances: NewAllianceLedger(),
		PrizePool: prizePool,
		CreatedAt: e.now(),
		index:     make(map[string]*Agent, len(agents)),
		roster:    make(map[string]bool, len(agents)),
	}
	ids := make([]string, 0, len(agents))
	for _, d := range agents {
		if err := d.Validate(e.rules.MaxModifier); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAgent, err)
		}
		if m.roster[d.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, d.ID)
		}
		a := newAgent(d, e.rules.HPCap)
		m.Agents = append(m.Agents, a)
		m.index[a.ID] = a
		m.roster[a.ID] = true
		ids = append(ids, a.ID)
	}

	e.logger.Info("match started",
		zap.String("match_id", m.ID),
		zap.String("arena_id", arenaID),
		zap.Int("agents", len(ids)),
		zap.Int64("prize_pool", prizePool))
	e.publisher.Publish(events.New(events.TypeMatchStarted, arenaID, m.ID, "",
		events.MatchStartedPayload{Agents: ids, PrizePool: prizePool}))

	return m, nil
}

// ExecuteTurn runs one full turn: collect decisions, resolve them in stage
// order, append the turn record and check for termination.
func (e *Engine) ExecuteTurn(ctx context.Context, m *Match) (TurnRecord, error) {
	if !m.IsActive() {
		return TurnRecord{}, fmt.Errorf("%w: %s", ErrMatchNotActive, m.ID)
	}
	start := time.Now()

	collected := e.collector.Collect(ctx, m)

	rec := TurnRecord{
		Turn:      m.Turn,
		Decisions: make(map[string]Decision, len(collected)),
	}
	for _, c := range collected {
		rec.Decisions[c.AgentID] = c.Decision
		if c.Defaulted {
			if rec.Defaulted == nil {
				rec.Defaulted = make(map[string]string)
			}
			rec.Defaulted[c.AgentID] = c.Reason
			e.publisher.Publish(events.New(events.TypeDecisionDefaulted, m.ArenaID, m.ID, c.AgentID,
				events.DecisionDefaultedPayload{Turn: m.Turn, Reason: c.Reason}))
		}
	}

	t := &turn{engine: e, match: m, decisions: collected, defending: make(map[string]bool)}
	t.markDefends()
	t.queueProposals()
	t.resolveAlliances()
	t.resolveAttacks()
	t.resolveBetrayals()
	t.applyRecovery()
	t.markDeaths()

	for _, a := range m.Agents {
		if a.Alive {
			a.TurnsAlive++
		}
	}

	var ended *TurnEvent
	if alive := m.AliveAgents(); len(alive) <= 1 {
		winner, reason := "", EndDraw
		if len(alive) == 1 {
			winner, reason = alive[0].ID, EndLastStanding
		}
		ev := e.complete(m, winner, reason)
		t.events = append(t.events, ev)
		ended = &ev
	} else {
		m.Turn++
	}

	rec.Events = t.events
	m.History = append(m.History, rec)

	e.publisher.Publish(events.New(events.TypeTurnCompleted, m.ArenaID, m.ID, "", events.TurnPayload{
		Turn:      rec.Turn,
		Alive:     len(m.AliveAgents()),
		Events:    len(rec.Events),
		Defaulted: len(rec.Defaulted),
		Duration:  time.Since(start),
	}))
	e.logger.Debug("turn completed",
		zap.String("match_id", m.ID),
		zap.Int("turn", rec.Turn),
		zap.Int("events", len(rec.Events)),
		zap.Duration("elapsed", time.Since(start)))

	if ended != nil {
		e.announceEnd(m)
	}
	return rec, nil
}

// ForceEnd completes an active match at the turn cap. The living participant
// with the most HP wins; ties go to the earlier roster position.
func (e *Engine) ForceEnd(m *Match) error {
	if !m.IsActive() {
		return fmt.Errorf("%w: %s", ErrMatchNotActive, m.ID)
	}

	var winner *Agent
	for _, a := range m.AliveAgents() {
		if winner == nil || a.HP > winner.HP {
			winner = a
		}
	}
	winnerID := ""
	if winner != nil {
		winnerID = winner.ID
	}

	ev := e.complete(m, winnerID, EndTurnLimit)
	if n := len(m.History); n > 0 {
		last := m.History[n-1]
		last.Events = append(append([]TurnEvent(nil), last.Events...), ev)
		m.History[n-1] = last
		m.Turn = last.Turn
	} else {
		m.History = append(m.History, TurnRecord{Turn: m.Turn, Decisions: map[string]Decision{}, Events: []TurnEvent{ev}})
	}

	e.announceEnd(m)
	return nil
}

// complete transitions the match to completed and settles the prize pool.
func (e *Engine) complete(m *Match, winnerID, reason string) TurnEvent {
	m.Status = MatchCompleted
	m.WinnerID = winnerID
	m.EndReason = reason
	m.EndedAt = e.now()
	m.Payouts = e.prizes.Distribute(m, winnerID)
	m.Alliances.Clear()

	return TurnEvent{Type: TurnEventMatchEnd, WinnerID: winnerID, Reason: reason}
}

func (e *Engine) announceEnd(m *Match) {
	e.logger.Info("match ended",
		zap.String("match_id", m.ID),
		zap.String("winner_id", m.WinnerID),
		zap.String("reason", m.EndReason),
		zap.Int("turns", len(m.History)),
		zap.Int64("paid", TotalPaid(m.Payouts)))

	e.publisher.Publish(events.New(events.TypeMatchEnded, m.ArenaID, m.ID, m.WinnerID, events.MatchEndedPayload{
		WinnerID:   m.WinnerID,
		Reason:     m.EndReason,
		TotalTurns: len(m.History),
	}))
	for _, p := range m.Payouts {
		e.publisher.Publish(events.New(events.TypePrizeDistributed, m.ArenaID, m.ID, p.AgentID,
			events.PrizePayload{Amount: p.Amount, Reason: string(p.Reason)}))
	}
}
