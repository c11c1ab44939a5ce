package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"agent-arena/internal/arena"
	"agent-arena/internal/config"
	"agent-arena/internal/game"
	"agent-arena/internal/storage"
	"agent-arena/internal/strategy"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type simulateOptions struct {
	Tier            string
	Strategies      []string
	External        int // trailing agents marked external
	Seed            int64
	MaxTurns        int
	DecisionTimeout time.Duration
}

func simulateCmd() *cobra.Command {
	var (
		opts      simulateOptions
		showTurns bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play one arena with built-in strategies",
		Example: `  arenactl simulate --tier bronze --strategies aggressive,diplomat,diplomat,random
  arenactl simulate --tier gold --external 1 --db results.db --turns`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tiers, err := loadTiers()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			var recorder arena.Recorder
			if path := viper.GetString("db"); path != "" {
				conn, err := storage.Open(path)
				if err != nil {
					return err
				}
				defer conn.Close()
				recorder = storage.NewResults(conn)
			}

			res, err := runSimulation(cmd.Context(), opts, tiers, recorder, logger)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("match %s: winner=%s reason=%s turns=%d pool=%d paid=%d\n",
				res.MatchID, orDash(res.WinnerID), res.EndReason, res.TotalTurns, res.PrizePool, game.TotalPaid(res.Payouts))
			if showTurns {
				renderTurns(os.Stdout, res.History)
			}
			renderAgents(os.Stdout, res.Agents)
			renderPayouts(os.Stdout, res.Payouts)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Tier, "tier", "bronze", "arena tier")
	cmd.Flags().StringSliceVar(&opts.Strategies, "strategies", []string{"aggressive", "defensive", "diplomat", "random"}, "one built-in strategy per agent")
	cmd.Flags().IntVar(&opts.External, "external", 0, "mark the last N agents as external")
	cmd.Flags().Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "seed for random strategies")
	cmd.Flags().IntVar(&opts.MaxTurns, "max-turns", 0, "turn cap (default: MATCH_MAX_TURNS or 100)")
	cmd.Flags().DurationVar(&opts.DecisionTimeout, "decision-timeout", 0, "per-agent decision deadline")
	cmd.Flags().BoolVar(&showTurns, "turns", false, "print the turn log")
	return cmd
}

// runSimulation drives one arena through the real lifecycle manager and
// returns the completed result.
func runSimulation(ctx context.Context, opts simulateOptions, tiers []config.TierConfig, recorder arena.Recorder, logger *zap.Logger) (*game.MatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.External < 0 || opts.External > len(opts.Strategies) {
		return nil, fmt.Errorf("--external must be within 0..%d", len(opts.Strategies))
	}

	rules := config.MatchFromEnv()
	if opts.MaxTurns > 0 {
		rules.MaxTurns = opts.MaxTurns
	}
	if opts.DecisionTimeout > 0 {
		rules.DecisionTimeout = opts.DecisionTimeout
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	// The countdown never fires; the arena is launched explicitly once full.
	manager := arena.NewManager(arena.NewStore(), game.NewEngine(game.EngineConfig{Rules: rules, Logger: logger}), arena.ManagerConfig{
		Lobby:    config.LobbyConfig{Countdown: time.Hour},
		Tiers:    tiers,
		Recorder: recorder,
		Logger:   logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	info, err := manager.CreateTierArena(opts.Tier)
	if err != nil {
		return nil, err
	}
	if len(opts.Strategies) > info.MaxAgents {
		return nil, fmt.Errorf("tier %s holds at most %d agents, got %d", opts.Tier, info.MaxAgents, len(opts.Strategies))
	}

	registry := strategy.NewRegistry()
	firstExternal := len(opts.Strategies) - opts.External
	for i, name := range opts.Strategies {
		strat, err := registry.New(name, opts.Seed+int64(i))
		if err != nil {
			return nil, err
		}
		info, err = manager.Join(info.ID, game.AgentDescriptor{
			ID:       fmt.Sprintf("%s-%d", name, i+1),
			OwnerID:  "arenactl",
			External: i >= firstExternal,
			Strategy: strat,
		})
		if err != nil {
			return nil, err
		}
	}
	if info.Status != arena.StatusInProgress {
		if _, err := manager.Launch(info.ID); err != nil {
			return nil, err
		}
	}

	return manager.Wait(ctx, info.ID)
}

func renderTurns(w io.Writer, history []game.TurnRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Turns")
	tw.AppendHeader(table.Row{"Turn", "Attacks", "Damage", "Alliances", "Betrayals", "Deaths", "Defaulted"})
	for _, rec := range history {
		var attacks, damage, alliances, betrayals, deaths int
		for _, e := range rec.Events {
			switch e.Type {
			case game.TurnEventAttack:
				attacks++
				damage += e.Damage
			case game.TurnEventBetrayal:
				betrayals++
				damage += e.Damage
			case game.TurnEventAllianceFormed:
				alliances++
			case game.TurnEventDeath:
				deaths++
			}
		}
		tw.AppendRow(table.Row{rec.Turn, attacks, damage, alliances, betrayals, deaths, len(rec.Defaulted)})
	}
	tw.Render()
}

func renderAgents(w io.Writer, agents []game.Agent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Agents")
	tw.AppendHeader(table.Row{"Agent", "External", "HP", "Alive", "Turns Alive", "Last Action"})
	for _, a := range agents {
		last := "-"
		if a.LastAction != nil {
			last = string(a.LastAction.Kind)
			if a.LastAction.Target != "" {
				last += " " + a.LastAction.Target
			}
		}
		tw.AppendRow(table.Row{a.ID, a.External, fmt.Sprintf("%d/%d", a.HP, a.MaxHP), a.Alive, a.TurnsAlive, last})
	}
	tw.Render()
}

func renderPayouts(w io.Writer, payouts []game.Payout) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Payouts")
	tw.AppendHeader(table.Row{"Agent", "Reason", "Amount"})
	for _, p := range payouts {
		tw.AppendRow(table.Row{p.AgentID, p.Reason, p.Amount})
	}
	tw.AppendFooter(table.Row{"", "Total", game.TotalPaid(payouts)})
	tw.Render()
}
