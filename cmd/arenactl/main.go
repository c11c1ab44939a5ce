package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"agent-arena/internal/config"
	"agent-arena/internal/storage"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "arenactl",
	Short: "Agent arena CLI",
	Long: `arenactl runs and inspects agent arena matches locally.
- simulate: fill an arena with built-in strategies and play it to the end.
- results:  list matches recorded in the results database.
- tiers:    show the arena tiers in effect.
Flags can also be set through ARENA_* environment variables (ARENA_DB, ARENA_TIERS_FILE, ...).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("db", "", "results database path")
	rootCmd.PersistentFlags().String("tiers-file", "", "YAML tier definitions (default: built-in tiers)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("tiers-file", rootCmd.PersistentFlags().Lookup("tiers-file"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(resultsCmd())
	rootCmd.AddCommand(tiersCmd())
}

func tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show arena tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			tiers, err := loadTiers()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(tiers)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Tier", "Name", "Entry Fee", "Min", "Max"})
			for _, t := range tiers {
				tw.AppendRow(table.Row{t.Name, t.DisplayName, t.EntryFee, t.MinAgents, t.MaxAgents})
			}
			tw.Render()
			return nil
		},
	}
}

func resultsCmd() *cobra.Command {
	var (
		tier  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "results [match-id]",
		Short: "List recorded results, or show one match",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("db")
			if path == "" {
				return fmt.Errorf("--db (or ARENA_DB) required")
			}
			conn, err := storage.Open(path)
			if err != nil {
				return err
			}
			defer conn.Close()
			results := storage.NewResults(conn)

			if len(args) == 1 {
				res, tier, err := results.GetResult(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("match %s (%s) winner=%s reason=%s turns=%d pool=%d\n",
					res.MatchID, tier, orDash(res.WinnerID), res.EndReason, res.TotalTurns, res.PrizePool)
				renderAgents(os.Stdout, res.Agents)
				renderPayouts(os.Stdout, res.Payouts)
				return nil
			}

			list, err := results.ListResults(cmd.Context(), tier, limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(list)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Match", "Tier", "Winner", "Reason", "Turns", "Pool", "Paid", "Ended"})
			for _, r := range list {
				tw.AppendRow(table.Row{r.MatchID, r.Tier, orDash(r.WinnerID), r.EndReason, r.TotalTurns, r.PrizePool, r.Paid,
					r.EndedAt.Local().Format("2006-01-02 15:04:05")})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "tier filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func loadTiers() ([]config.TierConfig, error) {
	if path := viper.GetString("tiers-file"); path != "" {
		return config.LoadTiers(path)
	}
	return config.DefaultTiers(), nil
}

func newLogger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
