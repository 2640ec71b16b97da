package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/MJE43/mines-desktop/internal/mines"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryDSN keeps the journal inside the process.
const MemoryDSN = ":memory:"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var ErrNotFound = errors.New("round not found")

// RoundRecord is a finished round as stored in the journal.
type RoundRecord struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	Generation uint64           `json:"generation"`
	Outcome    mines.Outcome    `json:"outcome"`
	Bet        decimal.Decimal  `json:"bet"`
	Payout     decimal.Decimal  `json:"payout"`
	MineCount  int              `json:"mineCount"`
	GridSide   int              `json:"gridSide"`
	Revealed   int              `json:"revealed"`
	TotalSafe  int              `json:"totalSafe"`
	Mines      []mines.Position `json:"mines"`
	StartedAt  time.Time        `json:"startedAt"`
	EndedAt    time.Time        `json:"endedAt"`
}

// RevealRecord is one uncovered cell, in reveal order.
type RevealRecord struct {
	RoundID string          `json:"roundId"`
	Seq     int             `json:"seq"`
	X       int             `json:"x"`
	Y       int             `json:"y"`
	Mine    bool            `json:"mine"`
	Reward  decimal.Decimal `json:"reward"`
}

// RoundDetail is a round together with its reveals.
type RoundDetail struct {
	RoundRecord
	Reveals []RevealRecord `json:"reveals"`
}

// RoundFilter narrows ListRounds. Zero values mean no constraint.
type RoundFilter struct {
	SessionID string        `json:"sessionId,omitempty"`
	Outcome   mines.Outcome `json:"outcome,omitempty"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// RoundsPage is one page of history, newest first.
type RoundsPage struct {
	Rounds     []RoundRecord `json:"rounds"`
	TotalCount int           `json:"totalCount"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
}

// Summary aggregates the rounds of one session.
type Summary struct {
	SessionID string          `json:"sessionId"`
	Rounds    int             `json:"rounds"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`
	Cashouts  int             `json:"cashouts"`
	Wagered   decimal.Decimal `json:"wagered"`
	PaidOut   decimal.Decimal `json:"paidOut"`
	Net       decimal.Decimal `json:"net"`
}

// Store is the SQLite round journal.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn and applies pending migrations. An in-memory DSN is
// pinned to one connection, otherwise every pooled connection would see its
// own empty database.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if dsn == MemoryDSN {
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	for _, r := range results {
		s.logger.Debug("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertRound stores a finished round.
func (s *Store) InsertRound(ctx context.Context, r RoundRecord) error {
	minesJSON, err := json.Marshal(r.Mines)
	if err != nil {
		return fmt.Errorf("encode mines: %w", err)
	}
	query, args, err := sq.Insert("rounds").
		Columns("id", "session_id", "generation", "outcome", "bet", "payout",
			"mine_count", "grid_side", "revealed", "total_safe", "mines_json",
			"started_at", "ended_at").
		Values(r.ID, r.SessionID, r.Generation, string(r.Outcome), r.Bet.String(), r.Payout.String(),
			r.MineCount, r.GridSide, r.Revealed, r.TotalSafe, string(minesJSON),
			r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli()).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert round %s: %w", r.ID, err)
	}
	return nil
}

// InsertReveals stores the reveals of one round in a single transaction.
func (s *Store) InsertReveals(ctx context.Context, reveals []RevealRecord) error {
	if len(reveals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	builder := sq.Insert("reveals").Columns("round_id", "seq", "x", "y", "mine", "reward")
	for _, rv := range reveals {
		builder = builder.Values(rv.RoundID, rv.Seq, rv.X, rv.Y, boolToInt(rv.Mine), rv.Reward.String())
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reveals: %w", err)
	}
	return tx.Commit()
}

// ListRounds returns a page of rounds matching f, newest first.
func (s *Store) ListRounds(ctx context.Context, f RoundFilter) (RoundsPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(f.Offset, 0)

	where := sq.And{}
	if f.SessionID != "" {
		where = append(where, sq.Eq{"session_id": f.SessionID})
	}
	if f.Outcome != "" {
		where = append(where, sq.Eq{"outcome": string(f.Outcome)})
	}

	page := RoundsPage{Rounds: []RoundRecord{}, Limit: limit, Offset: offset}

	countQuery, countArgs, err := sq.Select("COUNT(*)").From("rounds").Where(where).ToSql()
	if err != nil {
		return page, err
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.TotalCount); err != nil {
		return page, fmt.Errorf("count rounds: %w", err)
	}

	query, args, err := selectRounds().
		Where(where).
		OrderBy("ended_at DESC", "generation DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return page, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return page, err
		}
		page.Rounds = append(page.Rounds, r)
	}
	return page, rows.Err()
}

// GetRound returns a round and its reveals, or ErrNotFound.
func (s *Store) GetRound(ctx context.Context, id string) (RoundDetail, error) {
	query, args, err := selectRounds().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return RoundDetail{}, err
	}
	r, err := scanRound(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return RoundDetail{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return RoundDetail{}, err
	}

	query, args, err = sq.Select("round_id", "seq", "x", "y", "mine", "reward").
		From("reveals").
		Where(sq.Eq{"round_id": id}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return RoundDetail{}, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return RoundDetail{}, fmt.Errorf("get reveals: %w", err)
	}
	defer rows.Close()

	detail := RoundDetail{RoundRecord: r, Reveals: []RevealRecord{}}
	for rows.Next() {
		var (
			rv     RevealRecord
			mine   int
			reward string
		)
		if err := rows.Scan(&rv.RoundID, &rv.Seq, &rv.X, &rv.Y, &mine, &reward); err != nil {
			return RoundDetail{}, err
		}
		rv.Mine = mine != 0
		if rv.Reward, err = decimal.NewFromString(reward); err != nil {
			return RoundDetail{}, fmt.Errorf("decode reward: %w", err)
		}
		detail.Reveals = append(detail.Reveals, rv)
	}
	return detail, rows.Err()
}

// Summary aggregates every stored round of sessionID. Amounts are summed as
// decimals rather than in SQL to avoid floating point.
func (s *Store) Summary(ctx context.Context, sessionID string) (Summary, error) {
	sum := Summary{
		SessionID: sessionID,
		Wagered:   decimal.Zero,
		PaidOut:   decimal.Zero,
		Net:       decimal.Zero,
	}
	query, args, err := sq.Select("outcome", "bet", "payout").
		From("rounds").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return sum, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return sum, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome, bet, payout string
		if err := rows.Scan(&outcome, &bet, &payout); err != nil {
			return sum, err
		}
		b, err := decimal.NewFromString(bet)
		if err != nil {
			return sum, fmt.Errorf("decode bet: %w", err)
		}
		p, err := decimal.NewFromString(payout)
		if err != nil {
			return sum, fmt.Errorf("decode payout: %w", err)
		}
		sum.Rounds++
		switch mines.Outcome(outcome) {
		case mines.OutcomeWin:
			sum.Wins++
		case mines.OutcomeLoss:
			sum.Losses++
		case mines.OutcomeCashedOut:
			sum.Cashouts++
		}
		sum.Wagered = sum.Wagered.Add(b)
		sum.PaidOut = sum.PaidOut.Add(p)
	}
	sum.Net = sum.PaidOut.Sub(sum.Wagered)
	return sum, rows.Err()
}

func selectRounds() sq.SelectBuilder {
	return sq.Select("id", "session_id", "generation", "outcome", "bet", "payout",
		"mine_count", "grid_side", "revealed", "total_safe", "mines_json",
		"started_at", "ended_at").
		From("rounds")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (RoundRecord, error) {
	var (
		r              RoundRecord
		outcome        string
		bet, payout    string
		minesJSON      string
		started, ended int64
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.Generation, &outcome, &bet, &payout,
		&r.MineCount, &r.GridSide, &r.Revealed, &r.TotalSafe, &minesJSON,
		&started, &ended)
	if err != nil {
		return r, err
	}
	r.Outcome = mines.Outcome(outcome)
	if r.Bet, err = decimal.NewFromString(bet); err != nil {
		return r, fmt.Errorf("decode bet: %w", err)
	}
	if r.Payout, err = decimal.NewFromString(payout); err != nil {
		return r, fmt.Errorf("decode payout: %w", err)
	}
	if err := json.Unmarshal([]byte(minesJSON), &r.Mines); err != nil {
		return r, fmt.Errorf("decode mines: %w", err)
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.EndedAt = time.UnixMilli(ended).UTC()
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
