package arena

import (
	"context"
	"sync"
	"testing"
	"time"

	"agent-arena/internal/config"
	"agent-arena/internal/events"
	"agent-arena/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu      sync.Mutex
	tiers   []string
	results []*game.MatchResult
}

func (r *fakeRecorder) RecordResult(_ context.Context, tier string, res *game.MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers = append(r.tiers, tier)
	r.results = append(r.results, res)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type harness struct {
	manager  *Manager
	store    *Store
	events   *events.Recorder
	recorder *fakeRecorder
}

func newHarness(t *testing.T, countdown time.Duration, tiers []config.TierConfig, rules ...func(*config.MatchConfig)) *harness {
	t.Helper()
	cfg := config.DefaultMatch()
	cfg.DecisionTimeout = 200 * time.Millisecond
	for _, fn := range rules {
		fn(&cfg)
	}

	rec := &events.Recorder{}
	store := NewStore()
	engine := game.NewEngine(game.EngineConfig{Rules: cfg, Publisher: rec})
	fr := &fakeRecorder{}
	m := NewManager(store, engine, ManagerConfig{
		Lobby:     config.LobbyConfig{Countdown: countdown, Replenish: true},
		Tiers:     tiers,
		Recorder:  fr,
		Publisher: rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &harness{manager: m, store: store, events: rec, recorder: fr}
}

func tier(name string, fee int64, min, max int) config.TierConfig {
	return config.TierConfig{Name: name, DisplayName: name, EntryFee: fee, MinAgents: min, MaxAgents: max}
}

func agent(id string, d game.Decision) game.AgentDescriptor {
	return game.AgentDescriptor{
		ID:      id,
		OwnerID: "owner-" + id,
		Strategy: game.StrategyFunc(func(context.Context, game.GameView) (game.Decision, error) {
			return d, nil
		}),
	}
}

func waitResult(t *testing.T, m *Manager, arenaID string) (*game.MatchResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Wait(ctx, arenaID)
}

// With min == max the second join launches without a countdown.
func TestJoinAtCapacityLaunchesImmediately(t *testing.T) {
	h := newHarness(t, time.Hour, []config.TierConfig{tier("duel", 10, 2, 2)})
	created, err := h.manager.Bootstrap()
	require.NoError(t, err)
	require.Len(t, created, 1)
	id := created[0].ID

	info, err := h.manager.Join(id, agent("a1", game.Attack("a2")))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, info.Status)

	info, err = h.manager.Join(id, agent("a2", game.Defend()))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, info.Status)
	assert.NotEmpty(t, info.MatchID)
	assert.Zero(t, info.CountdownEndsAt)

	res, err := waitResult(t, h.manager, id)
	require.NoError(t, err)
	assert.Equal(t, "a1", res.WinnerID)
	assert.Equal(t, game.EndLastStanding, res.EndReason)
	assert.Equal(t, int64(20), res.PrizePool)
	assert.Len(t, h.events.OfType(events.TypeCountdownStarted), 0)
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	info, err := h.manager.CreateArena(tier("t", 5, 2, 3))
	require.NoError(t, err)

	_, err = h.manager.Join("missing", agent("x", game.Defend()))
	assert.ErrorIs(t, err, ErrArenaNotFound)

	_, err = h.manager.Join(info.ID, game.AgentDescriptor{ID: "no-strategy"})
	assert.ErrorIs(t, err, game.ErrInvalidAgent)

	cheat := agent("cheat", game.Defend())
	cheat.Modifiers = game.Modifiers{Attack: 100000, Health: 100000}
	_, err = h.manager.Join(info.ID, cheat)
	assert.ErrorIs(t, err, game.ErrInvalidAgent)

	_, err = h.manager.Join(info.ID, agent("x", game.Defend()))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("x", game.Defend()))
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	got, err := h.manager.Arena(info.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Agents, "failed joins must not mutate the lobby")
	assert.Equal(t, int64(5), got.PrizePool)
}

func TestJoinAfterLaunchIsRejected(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	info, err := h.manager.CreateArena(tier("t", 0, 2, 2))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Attack("b")))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("b", game.Defend()))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("c", game.Defend()))
	assert.ErrorIs(t, err, ErrNotAccepting)

	_, err = waitResult(t, h.manager, info.ID)
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("c", game.Defend()))
	assert.ErrorIs(t, err, ErrNotAccepting)
}

func TestEntryFees(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	info, err := h.manager.CreateArena(tier("t", 25, 3, 5))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Defend()))
	require.NoError(t, err)
	ext := agent("ext", game.Defend())
	ext.External = true
	got, err := h.manager.Join(info.ID, ext)
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.PrizePool, "external agents are fee-exempt")

	_, err = h.manager.Leave(info.ID, "a", "owner-ext")
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = h.manager.Leave(info.ID, "a", "")
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err = h.manager.Leave(info.ID, "a", "owner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.PrizePool, "leaving refunds the fee")

	got, err = h.manager.Leave(info.ID, "ext", "owner-ext")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.PrizePool)
	assert.Empty(t, got.Agents)
}

func TestCountdownLaunchesMatch(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, nil)
	info, err := h.manager.CreateArena(tier("t", 0, 2, 4))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Attack("b")))
	require.NoError(t, err)
	got, err := h.manager.Join(info.ID, agent("b", game.Defend()))
	require.NoError(t, err)
	assert.Equal(t, StatusLobby, got.Status)
	assert.False(t, got.CountdownEndsAt.IsZero())

	res, err := waitResult(t, h.manager, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", res.WinnerID)
	assert.Len(t, h.events.OfType(events.TypeCountdownStarted), 1)
	assert.Len(t, h.events.OfType(events.TypeMatchLaunching), 1)
}

func TestLeaveBelowQuorumCancelsCountdown(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, nil)
	info, err := h.manager.CreateArena(tier("t", 10, 2, 4))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Defend()))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("b", game.Defend()))
	require.NoError(t, err)

	got, err := h.manager.Leave(info.ID, "b", "owner-b")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Zero(t, got.CountdownEndsAt)

	time.Sleep(150 * time.Millisecond)
	got, err = h.manager.Arena(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status, "cancelled countdown must not launch")
	assert.Empty(t, h.events.OfType(events.TypeMatchLaunching))

	_, err = h.manager.Leave(info.ID, "b", "owner-b")
	assert.ErrorIs(t, err, ErrNotInLobby)
}

// Filling the lobby during a countdown launches once; the stale timer is a no-op.
func TestCapacityDuringCountdownLaunchesOnce(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, nil)
	info, err := h.manager.CreateArena(tier("t", 0, 2, 3))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Attack("b")))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("b", game.Attack("c")))
	require.NoError(t, err)
	got, err := h.manager.Join(info.ID, agent("c", game.Attack("a")))
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	_, err = waitResult(t, h.manager, info.ID)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.events.OfType(events.TypeMatchLaunching), 1)
}

func TestLeaveDuringMatch(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	release := make(chan struct{})
	slow := game.AgentDescriptor{
		ID: "slow",
		Strategy: game.StrategyFunc(func(ctx context.Context, _ game.GameView) (game.Decision, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return game.Defend(), nil
		}),
	}
	info, err := h.manager.CreateArena(tier("t", 0, 2, 2))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, slow)
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("b", game.Attack("slow")))
	require.NoError(t, err)

	_, err = h.manager.Leave(info.ID, "b", "owner-b")
	assert.ErrorIs(t, err, ErrMatchInProgress)
	close(release)
}

func TestManualLaunch(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	info, err := h.manager.CreateArena(tier("t", 0, 2, 8))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Attack("b")))
	require.NoError(t, err)
	_, err = h.manager.Launch(info.ID)
	assert.ErrorIs(t, err, game.ErrTooFewAgents)

	got, err := h.manager.Arena(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status, "rejected launch leaves the arena untouched")

	_, err = h.manager.Join(info.ID, agent("b", game.Defend()))
	require.NoError(t, err)
	got, err = h.manager.Launch(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	snap, err := h.manager.Match(got.MatchID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, snap.ArenaID)
}

func TestTurnCapForcesEnd(t *testing.T) {
	h := newHarness(t, time.Hour, nil, func(c *config.MatchConfig) { c.MaxTurns = 3 })
	info, err := h.manager.CreateArena(tier("t", 0, 2, 2))
	require.NoError(t, err)

	_, err = h.manager.Join(info.ID, agent("a", game.Defend()))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, agent("b", game.Attack("a")))
	require.NoError(t, err)

	res, err := waitResult(t, h.manager, info.ID)
	require.NoError(t, err)
	assert.Equal(t, game.EndTurnLimit, res.EndReason)
	assert.Equal(t, 3, res.TotalTurns)
	assert.Equal(t, "b", res.WinnerID, "untouched attacker has more HP")

	snap, err := h.manager.Match(res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, game.MatchCompleted, snap.Status)
}

func TestCompletionRecordsAndReplenishes(t *testing.T) {
	h := newHarness(t, time.Hour, []config.TierConfig{tier("bronze", 10, 2, 2)})
	created, err := h.manager.Bootstrap()
	require.NoError(t, err)
	id := created[0].ID

	_, err = h.manager.Join(id, agent("a", game.Attack("b")))
	require.NoError(t, err)
	_, err = h.manager.Join(id, agent("b", game.Defend()))
	require.NoError(t, err)
	_, err = waitResult(t, h.manager, id)
	require.NoError(t, err)

	assert.Equal(t, 1, h.recorder.count())
	assert.Equal(t, []string{"bronze"}, h.recorder.tiers)

	arenas := h.manager.Arenas()
	require.Len(t, arenas, 2)
	assert.Equal(t, StatusCompleted, arenas[0].Status)
	assert.Equal(t, StatusOpen, arenas[1].Status)
	assert.Equal(t, "bronze", arenas[1].Tier)

	stats := h.manager.Stats()
	assert.Equal(t, 1, stats.Arenas[StatusCompleted])
	assert.Equal(t, 1, stats.Matches)
	assert.Equal(t, int64(20), stats.TotalPaid)
}

func TestShutdownParksRunningMatch(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	slow := func(id string) game.AgentDescriptor {
		return game.AgentDescriptor{
			ID: id,
			Strategy: game.StrategyFunc(func(context.Context, game.GameView) (game.Decision, error) {
				time.Sleep(10 * time.Millisecond)
				return game.Defend(), nil
			}),
		}
	}
	info, err := h.manager.CreateArena(tier("t", 0, 2, 2))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, slow("a"))
	require.NoError(t, err)
	_, err = h.manager.Join(info.ID, slow("b"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))

	_, err = waitResult(t, h.manager, info.ID)
	assert.ErrorIs(t, err, ErrShuttingDown)
	got, err := h.manager.Arena(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.NotEmpty(t, got.Error)
	assert.Len(t, h.events.OfType(events.TypeMatchError), 1)

	_, err = h.manager.CreateArena(tier("t", 0, 2, 2))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestCreateArenaRejectsBadTiers(t *testing.T) {
	h := newHarness(t, time.Hour, nil)

	_, err := h.manager.CreateArena(tier("huge", 0, 2, 64))
	assert.ErrorIs(t, err, game.ErrTooManyAgents)

	_, err = h.manager.CreateTierArena("nope")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestCountdownCancelIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	cd := startCountdown(20*time.Millisecond, func(*countdown) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	cd.cancel()
	cd.cancel()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 0, fired)
	mu.Unlock()

	late := startCountdown(5*time.Millisecond, func(*countdown) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	time.Sleep(40 * time.Millisecond)
	late.cancel()
	late.cancel()

	var nilCountdown *countdown
	nilCountdown.cancel()

	mu.Lock()
	assert.Equal(t, 1, fired)
	mu.Unlock()
}
