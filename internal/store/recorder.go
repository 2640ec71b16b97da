package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MJE43/mines-desktop/internal/mines"
)

const (
	defaultQueueSize   = 64
	defaultMaxRetries  = 5
	defaultRetryBase   = 20 * time.Millisecond
	defaultWriteBudget = 5 * time.Second
)

type pendingRound struct {
	round   RoundRecord
	reveals []RevealRecord
}

// Recorder journals finished rounds. It subscribes to the engine, collects
// reveals while a round is live and hands the complete round to a background
// writer once it ends, so engine notifications never wait on disk. When the
// writer falls a full queue behind, further rounds are dropped and logged.
type Recorder struct {
	mines.NopObserver

	store      *Store
	sessionID  string
	logger     *zap.Logger
	maxRetries uint64
	retryBase  time.Duration

	mu      sync.Mutex
	live    map[string][]RevealRecord
	closed  bool
	queue   chan pendingRound
	pending sync.WaitGroup
	done    chan struct{}
	dropped atomic.Int64
}

// RecorderOption customizes a Recorder.
type RecorderOption func(*Recorder)

// WithRetries sets how often a busy write is retried and the initial backoff.
func WithRetries(n int, base time.Duration) RecorderOption {
	return func(r *Recorder) {
		if n >= 0 {
			r.maxRetries = uint64(n)
		}
		if base > 0 {
			r.retryBase = base
		}
	}
}

// WithQueueSize sets how many finished rounds may wait for the writer.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan pendingRound, n)
		}
	}
}

// WithRecorderLogger attaches a logger.
func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder starts the background writer for sessionID.
func NewRecorder(store *Store, sessionID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		sessionID:  sessionID,
		logger:     zap.NewNop(),
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		live:       make(map[string][]RevealRecord),
		queue:      make(chan pendingRound, defaultQueueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

func (r *Recorder) RoundStarted(info mines.RoundInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[info.RoundID] = nil
}

func (r *Recorder) CellRevealed(rev mines.Reveal) {
	if rev.AlreadyRevealed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.live[rev.RoundID]
	r.live[rev.RoundID] = append(list, RevealRecord{
		RoundID: rev.RoundID,
		Seq:     len(list) + 1,
		X:       rev.Position.X,
		Y:       rev.Position.Y,
		Mine:    rev.Mine,
		Reward:  rev.Reward,
	})
}

func (r *Recorder) RoundEnded(res mines.RoundResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reveals := r.live[res.RoundID]
	delete(r.live, res.RoundID)
	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn("recorder closed, round dropped", zap.String("round_id", res.RoundID))
		return
	}
	p := pendingRound{
		round: RoundRecord{
			ID:         res.RoundID,
			SessionID:  r.sessionID,
			Generation: res.Generation,
			Outcome:    res.Outcome,
			Bet:        res.Bet,
			Payout:     res.Payout,
			MineCount:  res.MineCount,
			GridSide:   res.GridSide,
			Revealed:   res.Revealed,
			TotalSafe:  res.TotalSafe,
			Mines:      res.Mines,
			StartedAt:  res.StartedAt,
			EndedAt:    res.EndedAt,
		},
		reveals: reveals,
	}
	r.pending.Add(1)
	select {
	case r.queue <- p:
	default:
		r.pending.Done()
		r.dropped.Add(1)
		r.logger.Warn("journal queue full, round dropped",
			zap.String("round_id", res.RoundID),
			zap.Int("queue_size", cap(r.queue)),
		)
	}
}

// Dropped reports how many finished rounds were not journaled.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer close(r.done)
	for p := range r.queue {
		if err := r.write(p); err != nil {
			r.logger.Error("journal write failed",
				zap.String("round_id", p.round.ID),
				zap.Error(err),
			)
		}
		r.pending.Done()
	}
}

func (r *Recorder) write(p pendingRound) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteBudget)
	defer cancel()

	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.retryBase))
	roundSaved := false
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !roundSaved {
			if err := r.store.InsertRound(ctx, p.round); err != nil {
				return retryable(err)
			}
			roundSaved = true
		}
		if err := r.store.InsertReveals(ctx, p.reveals); err != nil {
			return retryable(err)
		}
		return nil
	})
}

// Flush blocks until every queued round has been written.
func (r *Recorder) Flush() {
	r.pending.Wait()
}

// Close drains the queue and stops the writer. Rounds that end afterwards
// are dropped.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func retryable(err error) error {
	if isBusy(err) {
		return retry.RetryableError(err)
	}
	return err
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
