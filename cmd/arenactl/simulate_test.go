package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"agent-arena/internal/arena"
	"agent-arena/internal/config"
	"agent-arena/internal/game"
	"agent-arena/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSimulation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := runSimulation(ctx, simulateOptions{
		Tier:       "bronze",
		Strategies: []string{"aggressive", "defensive", "diplomat", "random"},
		External:   1,
		Seed:       7,
		MaxTurns:   50,
	}, config.DefaultTiers(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, game.MatchCompleted, res.Status)
	assert.Equal(t, int64(30), res.PrizePool, "external agent pays no fee")
	assert.LessOrEqual(t, game.TotalPaid(res.Payouts), res.PrizePool)
	assert.LessOrEqual(t, res.TotalTurns, 50)
	require.Len(t, res.Agents, 4)
	assert.Equal(t, "aggressive-1", res.Agents[0].ID)
	assert.True(t, res.Agents[3].External)

	var buf bytes.Buffer
	renderAgents(&buf, res.Agents)
	renderPayouts(&buf, res.Payouts)
	renderTurns(&buf, res.History)
	assert.Contains(t, buf.String(), "aggressive-1")
}

func TestRunSimulationRecordsResult(t *testing.T) {
	conn, err := storage.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer conn.Close()
	results := storage.NewResults(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := runSimulation(ctx, simulateOptions{
		Tier:       "bronze",
		Strategies: []string{"aggressive", "aggressive"},
		MaxTurns:   30,
	}, config.DefaultTiers(), results, nil)
	require.NoError(t, err)

	stored, tier, err := results.GetResult(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, "bronze", tier)
	assert.Equal(t, res.WinnerID, stored.WinnerID)
	assert.Equal(t, res.TotalTurns, stored.TotalTurns)
}

func TestRunSimulationRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	tiers := config.DefaultTiers()

	_, err := runSimulation(ctx, simulateOptions{Tier: "platinum", Strategies: []string{"aggressive", "aggressive"}}, tiers, nil, nil)
	assert.ErrorIs(t, err, arena.ErrUnknownTier)

	_, err = runSimulation(ctx, simulateOptions{Tier: "bronze", Strategies: []string{"aggressive", "kamikaze"}}, tiers, nil, nil)
	assert.Error(t, err)

	_, err = runSimulation(ctx, simulateOptions{Tier: "bronze", Strategies: []string{"aggressive"}, External: 2}, tiers, nil, nil)
	assert.Error(t, err)

	_, err = runSimulation(ctx, simulateOptions{Tier: "bronze", Strategies: []string{"aggressive"}}, tiers, nil, nil)
	assert.Error(t, err, "below the tier minimum")
}
