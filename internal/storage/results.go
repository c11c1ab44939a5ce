package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent-arena/internal/game"
)

var ErrResultNotFound = errors.New("result not found")

// ResultSummary is one row of the results listing.
type ResultSummary struct {
	MatchID    string    `json:"matchId"`
	ArenaID    string    `json:"arenaId"`
	Tier       string    `json:"tier"`
	WinnerID   string    `json:"winnerId,omitempty"`
	EndReason  string    `json:"endReason"`
	TotalTurns int       `json:"totalTurns"`
	PrizePool  int64     `json:"prizePool"`
	Paid       int64     `json:"paid"`
	EndedAt    time.Time `json:"endedAt"`
}

// Results stores completed matches. It satisfies arena.Recorder.
type Results struct {
	DB *sql.DB
}

// NewResults wraps an open database.
func NewResults(db *sql.DB) *Results {
	return &Results{DB: db}
}

// RecordResult stores a completed match with its payouts and full history.
// Recording the same match twice replaces the earlier row.
func (r *Results) RecordResult(ctx context.Context, tier string, res *game.MatchResult) error {
	agents, err := json.Marshal(res.Agents)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	history, err := json.Marshal(res.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_results WHERE match_id=?`, res.MatchID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO match_results(match_id, arena_id, tier, status, winner_id, end_reason, total_turns, prize_pool, created_at, ended_at, agents_json, history_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		res.MatchID, res.ArenaID, tier, string(res.Status), res.WinnerID, res.EndReason, res.TotalTurns, res.PrizePool,
		formatTime(res.CreatedAt), formatTime(res.EndedAt), string(agents), string(history))
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	for i, p := range res.Payouts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO payouts(match_id, position, agent_id, amount, reason) VALUES (?,?,?,?,?)`,
			res.MatchID, i, p.AgentID, p.Amount, string(p.Reason)); err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
	}
	return tx.Commit()
}

// ListResults returns the most recent results first. An empty tier lists all
// tiers; limit <= 0 means no limit.
func (r *Results) ListResults(ctx context.Context, tier string, limit int) ([]ResultSummary, error) {
	query := `SELECT m.match_id, m.arena_id, m.tier, m.winner_id, m.end_reason, m.total_turns, m.prize_pool,
  COALESCE((SELECT SUM(amount) FROM payouts p WHERE p.match_id = m.match_id), 0), m.ended_at
FROM match_results m`
	var args []any
	if tier != "" {
		query += ` WHERE m.tier=?`
		args = append(args, tier)
	}
	query += ` ORDER BY m.ended_at DESC, m.match_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var s ResultSummary
		var ended string
		if err := rows.Scan(&s.MatchID, &s.ArenaID, &s.Tier, &s.WinnerID, &s.EndReason, &s.TotalTurns, &s.PrizePool, &s.Paid, &ended); err != nil {
			return nil, err
		}
		s.EndedAt = parseTime(ended)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetResult loads one full result and the tier it was played in.
func (r *Results) GetResult(ctx context.Context, matchID string) (*game.MatchResult, string, error) {
	var (
		res             game.MatchResult
		tier, status    string
		created, ended  string
		agents, history string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT match_id, arena_id, tier, status, winner_id, end_reason, total_turns, prize_pool, created_at, ended_at, agents_json, history_json
FROM match_results WHERE match_id=?`, matchID).Scan(
		&res.MatchID, &res.ArenaID, &tier, &status, &res.WinnerID, &res.EndReason, &res.TotalTurns, &res.PrizePool,
		&created, &ended, &agents, &history)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("%w: %s", ErrResultNotFound, matchID)
	}
	if err != nil {
		return nil, "", err
	}
	res.Status = game.MatchStatus(status)
	res.CreatedAt = parseTime(created)
	res.EndedAt = parseTime(ended)
	if err := json.Unmarshal([]byte(agents), &res.Agents); err != nil {
		return nil, "", fmt.Errorf("decode agents: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &res.History); err != nil {
		return nil, "", fmt.Errorf("decode history: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id, amount, reason FROM payouts WHERE match_id=? ORDER BY position`, matchID)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	for rows.Next() {
		var p game.Payout
		var reason string
		if err := rows.Scan(&p.AgentID, &p.Amount, &reason); err != nil {
			return nil, "", err
		}
		p.Reason = game.PayoutReason(reason)
		res.Payouts = append(res.Payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	return &res, tier, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
