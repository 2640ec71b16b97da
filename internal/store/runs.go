package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrRunNotFound = errors.New("script run not found")

// RunStateRunning marks a run that has not been closed yet.
const RunStateRunning = "running"

// ScriptRun is one autoplay run: the script that was executed and its
// tallies when it ended. Amounts are float64 because that is what the
// script saw.
type ScriptRun struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	Source        string     `json:"source"`
	StartBalance  float64    `json:"startBalance"`
	FinalBalance  *float64   `json:"finalBalance,omitempty"`
	State         string     `json:"state"`
	Error         string     `json:"error,omitempty"`
	Bets          int        `json:"bets"`
	Wins          int        `json:"wins"`
	Losses        int        `json:"losses"`
	Cashouts      int        `json:"cashouts"`
	Wagered       float64    `json:"wagered"`
	Profit        float64    `json:"profit"`
	HighestStreak int        `json:"highestStreak"`
	LowestStreak  int        `json:"lowestStreak"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// RunEnd is what gets written when a run stops.
type RunEnd struct {
	State         string
	Error         string
	FinalBalance  float64
	Bets          int
	Wins          int
	Losses        int
	Cashouts      int
	Wagered       float64
	Profit        float64
	HighestStreak int
	LowestStreak  int
	EndedAt       time.Time
}

// RunsPage is one page of runs, newest first.
type RunsPage struct {
	Runs       []ScriptRun `json:"runs"`
	TotalCount int         `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// CreateRun inserts r in the running state and returns its id, generating
// one when r.ID is empty.
func (s *Store) CreateRun(ctx context.Context, r ScriptRun) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	query, args, err := sq.Insert("script_runs").
		Columns("id", "session_id", "source", "start_balance", "state", "started_at").
		Values(r.ID, r.SessionID, r.Source, r.StartBalance, RunStateRunning, r.StartedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return r.ID, nil
}

// EndRun closes run id with its final tallies.
func (s *Store) EndRun(ctx context.Context, id string, end RunEnd) error {
	if end.EndedAt.IsZero() {
		end.EndedAt = time.Now()
	}
	query, args, err := sq.Update("script_runs").
		SetMap(sq.Eq{
			"state":          end.State,
			"error":          end.Error,
			"final_balance":  end.FinalBalance,
			"bets":           end.Bets,
			"wins":           end.Wins,
			"losses":         end.Losses,
			"cashouts":       end.Cashouts,
			"wagered":        end.Wagered,
			"profit":         end.Profit,
			"highest_streak": end.HighestStreak,
			"lowest_streak":  end.LowestStreak,
			"ended_at":       end.EndedAt.UnixMilli(),
		}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("end run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun returns run id or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (ScriptRun, error) {
	query, args, err := selectRuns().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return ScriptRun{}, err
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return ScriptRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns pages through the runs of sessionID, newest first. An empty
// sessionID lists every run.
func (s *Store) ListRuns(ctx context.Context, sessionID string, limit, offset int) (RunsPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	where := sq.And{}
	if sessionID != "" {
		where = append(where, sq.Eq{"session_id": sessionID})
	}
	page := RunsPage{Runs: []ScriptRun{}, Limit: limit, Offset: offset}

	countQuery, countArgs, err := sq.Select("COUNT(*)").From("script_runs").Where(where).ToSql()
	if err != nil {
		return page, err
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.TotalCount); err != nil {
		return page, fmt.Errorf("count runs: %w", err)
	}

	query, args, err := selectRuns().
		Where(where).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return page, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return page, err
		}
		page.Runs = append(page.Runs, r)
	}
	return page, rows.Err()
}

// DeleteRun removes run id.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	query, args, err := sq.Delete("script_runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func selectRuns() sq.SelectBuilder {
	return sq.Select("id", "session_id", "source", "start_balance", "final_balance",
		"state", "error", "bets", "wins", "losses", "cashouts", "wagered", "profit",
		"highest_streak", "lowest_streak", "started_at", "ended_at").
		From("script_runs")
}

func scanRun(row rowScanner) (ScriptRun, error) {
	var (
		r       ScriptRun
		final   sql.NullFloat64
		started int64
		ended   sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.Source, &r.StartBalance, &final,
		&r.State, &r.Error, &r.Bets, &r.Wins, &r.Losses, &r.Cashouts, &r.Wagered, &r.Profit,
		&r.HighestStreak, &r.LowestStreak, &started, &ended)
	if err != nil {
		return r, err
	}
	if final.Valid {
		r.FinalBalance = &final.Float64
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		r.EndedAt = &t
	}
	return r, nil
}
