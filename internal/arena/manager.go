package arena

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"agent-arena/internal/config"
	"agent-arena/internal/events"
	"agent-arena/internal/game"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordTimeout bounds a single Recorder call.
const recordTimeout = 10 * time.Second

// Recorder persists completed match results.
type Recorder interface {
	RecordResult(ctx context.Context, tier string, result *game.MatchResult) error
}

// ManagerConfig contains the Manager's settings and collaborators.
type ManagerConfig struct {
	Lobby     config.LobbyConfig
	Tiers     []config.TierConfig
	Recorder  Recorder // optional
	Publisher events.Publisher
	Logger    *zap.Logger
}

// Manager drives arenas through open -> lobby -> in_progress -> completed.
// Every lifecycle operation on an arena runs under one mutex; each launched
// match is driven by its own runner goroutine.
//
// Events are published synchronously while the lock is held, so subscribers
// must not call back into the Manager.
type Manager struct {
	mu        sync.Mutex
	store     *Store
	engine    *game.Engine
	lobby     config.LobbyConfig
	tiers     map[string]config.TierConfig
	tierOrder []string
	recorder  Recorder
	publisher events.Publisher
	logger    *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	runners sync.WaitGroup
	closed  bool
}

// NewManager creates a manager around an injected store and engine.
func NewManager(store *Store, engine *game.Engine, cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		store:     store,
		engine:    engine,
		lobby:     cfg.Lobby,
		tiers:     make(map[string]config.TierConfig, len(cfg.Tiers)),
		recorder:  cfg.Recorder,
		publisher: pub,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, t := range cfg.Tiers {
		if _, dup := m.tiers[t.Name]; !dup {
			m.tierOrder = append(m.tierOrder, t.Name)
		}
		m.tiers[t.Name] = t
	}
	return m
}

// =============================================================================
// ARENA CREATION
// =============================================================================

// Bootstrap opens one arena per configured tier.
func (m *Manager) Bootstrap() ([]Info, error) {
	out := make([]Info, 0, len(m.tierOrder))
	for _, name := range m.tierOrder {
		info, err := m.CreateArena(m.tiers[name])
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}

// CreateTierArena opens a new arena for a configured tier.
func (m *Manager) CreateTierArena(tier string) (Info, error) {
	t, ok := m.tiers[tier]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	return m.CreateArena(t)
}

// CreateArena opens a new arena with the given settings. The tier does not
// need to be configured.
func (m *Manager) CreateArena(tier config.TierConfig) (Info, error) {
	if err := tier.Validate(); err != nil {
		return Info{}, err
	}
	rules := m.engine.Rules()
	if tier.MinAgents < rules.MinAgents {
		return Info{}, fmt.Errorf("tier %s: %w: min %d below %d", tier.Name, game.ErrTooFewAgents, tier.MinAgents, rules.MinAgents)
	}
	if tier.MaxAgents > rules.MaxAgents {
		return Info{}, fmt.Errorf("tier %s: %w: max %d above %d", tier.Name, game.ErrTooManyAgents, tier.MaxAgents, rules.MaxAgents)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Info{}, ErrShuttingDown
	}
	return m.newArenaLocked(tier).info(), nil
}

func (m *Manager) newArenaLocked(tier config.TierConfig) *arena {
	a := &arena{
		id:          uuid.NewString(),
		tier:        tier.Name,
		displayName: tier.DisplayName,
		entryFee:    tier.EntryFee,
		minAgents:   tier.MinAgents,
		maxAgents:   tier.MaxAgents,
		status:      StatusOpen,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
	}
	m.store.putArena(a)

	m.logger.Info("arena created",
		zap.String("arena_id", a.id),
		zap.String("tier", a.tier),
		zap.Int64("entry_fee", a.entryFee))
	m.publishArena(events.TypeArenaCreated, a, "")
	return a
}

// =============================================================================
// LOBBY OPERATIONS
// =============================================================================

// Join queues an agent. Non-external agents pay the entry fee into the prize
// pool. Reaching the minimum starts the countdown; reaching the maximum
// launches the match at once, and any launch error is returned.
func (m *Manager) Join(arenaID string, agent game.AgentDescriptor) (Info, error) {
	if err := agent.Validate(m.engine.Rules().MaxModifier); err != nil {
		return Info{}, fmt.Errorf("%w: %v", game.ErrInvalidAgent, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.acceptingLocked(arenaID)
	if err != nil {
		return Info{}, err
	}
	if a.indexOf(agent.ID) >= 0 {
		return a.info(), fmt.Errorf("%w: %s in %s", ErrAlreadyJoined, agent.ID, arenaID)
	}
	if len(a.agents) >= a.maxAgents {
		return a.info(), fmt.Errorf("%w: %s", ErrArenaFull, arenaID)
	}

	a.agents = append(a.agents, agent)
	if !agent.External {
		a.prizePool += a.entryFee
	}
	m.logger.Info("agent joined",
		zap.String("arena_id", a.id),
		zap.String("agent_id", agent.ID),
		zap.Bool("external", agent.External),
		zap.Int("agents", len(a.agents)))
	m.publishArena(events.TypeAgentJoined, a, agent.ID)

	switch {
	case len(a.agents) >= a.maxAgents:
		if err := m.launchLocked(a); err != nil {
			return a.info(), err
		}
	case a.status == StatusOpen && len(a.agents) >= a.minAgents:
		if err := m.startCountdownLocked(a); err != nil {
			return a.info(), err
		}
	}
	return a.info(), nil
}

// Leave removes a queued agent on behalf of its owner and refunds a
// non-external agent's fee. Dropping below the minimum cancels the countdown
// and reopens the arena.
func (m *Manager) Leave(arenaID, agentID, ownerID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.acceptingLocked(arenaID)
	if err != nil {
		return Info{}, err
	}
	i := a.indexOf(agentID)
	if i < 0 {
		return a.info(), fmt.Errorf("%w: %s in %s", ErrNotInLobby, agentID, arenaID)
	}
	agent := a.agents[i]
	if agent.OwnerID != ownerID {
		return a.info(), fmt.Errorf("%w: %s", ErrNotOwner, agentID)
	}

	a.agents = slices.Delete(a.agents, i, i+1)
	if !agent.External {
		a.prizePool -= a.entryFee
	}
	m.logger.Info("agent left",
		zap.String("arena_id", a.id),
		zap.String("agent_id", agentID),
		zap.Int("agents", len(a.agents)))
	m.publishArena(events.TypeAgentLeft, a, agentID)

	if a.status == StatusLobby && len(a.agents) < a.minAgents {
		a.countdown.cancel()
		a.countdown = nil
		a.status = StatusOpen
		m.logger.Info("countdown cancelled", zap.String("arena_id", a.id))
	}
	return a.info(), nil
}

// Launch starts the arena's match now, skipping any countdown.
func (m *Manager) Launch(arenaID string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.acceptingLocked(arenaID)
	if err != nil {
		return Info{}, err
	}
	if len(a.agents) < a.minAgents {
		return a.info(), fmt.Errorf("%w: have %d, need %d", game.ErrTooFewAgents, len(a.agents), a.minAgents)
	}
	err = m.launchLocked(a)
	return a.info(), err
}

func (m *Manager) acceptingLocked(arenaID string) (*arena, error) {
	if m.closed {
		return nil, ErrShuttingDown
	}
	a, ok := m.store.arena(arenaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArenaNotFound, arenaID)
	}
	switch {
	case a.status == StatusInProgress:
		return nil, fmt.Errorf("%w: %w: %s", ErrNotAccepting, ErrMatchInProgress, arenaID)
	case !a.status.Accepting():
		return nil, fmt.Errorf("%w: %s is %s", ErrNotAccepting, arenaID, a.status)
	}
	return a, nil
}

// =============================================================================
// COUNTDOWN
// =============================================================================

func (m *Manager) startCountdownLocked(a *arena) error {
	a.status = StatusLobby
	if m.lobby.Countdown <= 0 {
		return m.launchLocked(a)
	}

	a.countdown = startCountdown(m.lobby.Countdown, func(cd *countdown) {
		m.countdownFired(a.id, cd)
	})
	m.logger.Info("countdown started",
		zap.String("arena_id", a.id),
		zap.Duration("countdown", m.lobby.Countdown))
	m.publisher.Publish(events.New(events.TypeCountdownStarted, a.id, "", "", events.CountdownPayload{
		Seconds: m.lobby.Countdown.Seconds(),
		Agents:  len(a.agents),
	}))
	return nil
}

// countdownFired launches the arena unless the countdown was superseded,
// cancelled or the arena already launched.
func (m *Manager) countdownFired(arenaID string, cd *countdown) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.store.arena(arenaID)
	if !ok || m.closed || a.countdown != cd || a.status != StatusLobby {
		return
	}
	if err := m.launchLocked(a); err != nil {
		m.logger.Warn("countdown launch failed", zap.String("arena_id", arenaID), zap.Error(err))
	}
}

// =============================================================================
// MATCH EXECUTION
// =============================================================================

func (m *Manager) launchLocked(a *arena) error {
	a.countdown.cancel()
	a.countdown = nil
	m.publishArena(events.TypeMatchLaunching, a, "")

	match, err := m.engine.NewMatch(a.id, a.agents, a.prizePool)
	if err != nil {
		err = fmt.Errorf("launch arena %s: %w", a.id, err)
		m.failLocked(a, err)
		return err
	}

	a.status = StatusInProgress
	a.matchID = match.ID
	holder := m.store.putMatch(match.ID)
	holder.Publish(match.Snapshot())

	m.logger.Info("match launched",
		zap.String("arena_id", a.id),
		zap.String("match_id", match.ID),
		zap.Int("agents", len(a.agents)),
		zap.Int64("prize_pool", a.prizePool))

	m.runners.Add(1)
	go m.run(a, match, holder)
	return nil
}

// run owns the match until it completes or fails.
func (m *Manager) run(a *arena, match *game.Match, holder *game.SnapshotHolder) {
	defer m.runners.Done()

	if err := m.drive(match, holder); err != nil {
		m.fail(a, err)
		return
	}

	result := match.Result()
	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), recordTimeout)
		if err := m.recorder.RecordResult(ctx, a.tier, result); err != nil {
			m.logger.Error("failed to record match result",
				zap.String("match_id", match.ID),
				zap.Error(err))
		}
		cancel()
	}
	m.finish(a, result)
}

// drive executes turns until the match ends, force-ending it at the turn cap.
// Shutdown is only observed between turns.
func (m *Manager) drive(match *game.Match, holder *game.SnapshotHolder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("match %s panicked: %v", match.ID, r)
		}
	}()

	maxTurns := m.engine.Rules().MaxTurns
	for match.IsActive() {
		if m.ctx.Err() != nil {
			return ErrShuttingDown
		}
		if len(match.History) >= maxTurns {
			if err := m.engine.ForceEnd(match); err != nil {
				return err
			}
			break
		}
		if _, err := m.engine.ExecuteTurn(m.ctx, match); err != nil {
			return err
		}
		holder.Publish(match.Snapshot())
	}
	holder.Publish(match.Snapshot())
	return nil
}

func (m *Manager) finish(a *arena, result *game.MatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.status = StatusCompleted
	a.result = result
	close(a.done)

	m.logger.Info("arena completed",
		zap.String("arena_id", a.id),
		zap.String("match_id", result.MatchID),
		zap.String("winner_id", result.WinnerID),
		zap.Int("turns", result.TotalTurns))
	m.publishArena(events.TypeMatchCompleted, a, "")

	if !m.lobby.Replenish || m.closed {
		return
	}
	if tier, ok := m.tiers[a.tier]; ok {
		m.newArenaLocked(tier)
	}
}

func (m *Manager) fail(a *arena, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(a, err)
}

func (m *Manager) failLocked(a *arena, err error) {
	a.status = StatusError
	a.err = err
	close(a.done)

	m.logger.Error("arena failed", zap.String("arena_id", a.id), zap.String("match_id", a.matchID), zap.Error(err))
	m.publisher.Publish(events.New(events.TypeMatchError, a.id, a.matchID, "", events.ErrorPayload{Error: err.Error()}))
}

// =============================================================================
// QUERIES
// =============================================================================

// Arena returns a copy of one arena.
func (m *Manager) Arena(arenaID string) (Info, error) {
	a, ok := m.store.arena(arenaID)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrArenaNotFound, arenaID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return a.info(), nil
}

// Arenas returns copies of every arena in creation order.
func (m *Manager) Arenas() []Info {
	list := m.store.arenaList()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, len(list))
	for i, a := range list {
		out[i] = a.info()
	}
	return out
}

// Match returns the latest snapshot of a launched match.
func (m *Manager) Match(matchID string) (*game.MatchSnapshot, error) {
	snap, ok := m.store.Match(matchID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return snap, nil
}

// Tiers returns the configured tiers in configuration order.
func (m *Manager) Tiers() []config.TierConfig {
	out := make([]config.TierConfig, 0, len(m.tierOrder))
	for _, name := range m.tierOrder {
		out = append(out, m.tiers[name])
	}
	return out
}

// Wait blocks until the arena completes or fails and returns its result. A
// failed arena returns the launch or runtime error.
func (m *Manager) Wait(ctx context.Context, arenaID string) (*game.MatchResult, error) {
	a, ok := m.store.arena(arenaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArenaNotFound, arenaID)
	}
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return a.result, a.err
}

// Stats summarises arena and match counts.
type Stats struct {
	Arenas        map[Status]int `json:"arenas"`
	ActiveMatches int            `json:"activeMatches"`
	Matches       int            `json:"matches"`
	TotalPaid     int64          `json:"totalPaid"`
}

// Stats returns current counts.
func (m *Manager) Stats() Stats {
	s := Stats{Arenas: make(map[Status]int)}
	for _, info := range m.Arenas() {
		s.Arenas[info.Status]++
	}
	for _, snap := range m.store.Matches() {
		s.Matches++
		if snap.Status == game.MatchActive {
			s.ActiveMatches++
		}
		s.TotalPaid += game.TotalPaid(snap.Payouts)
	}
	return s
}

// Shutdown stops accepting work, cancels countdowns and waits for running
// matches to reach a turn boundary. Matches still active are marked failed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for _, a := range m.store.arenaList() {
			a.countdown.cancel()
			a.countdown = nil
		}
	}
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.runners.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) publishArena(t events.Type, a *arena, agentID string) {
	m.publisher.Publish(events.New(t, a.id, a.matchID, agentID, events.ArenaPayload{
		Tier:      a.tier,
		Status:    string(a.status),
		Agents:    len(a.agents),
		PrizePool: a.prizePool,
	}))
}
