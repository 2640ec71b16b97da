package app

import (
	"context"
	"time"

	"github.com/MJE43/mines-desktop/internal/scripting"
	"github.com/MJE43/mines-desktop/internal/store"
)

const runWriteLimit = 5 * time.Second

// runJournal stores autoplay runs next to the rounds they played.
type runJournal struct {
	store     *store.Store
	sessionID string
}

func (j runJournal) RunStarted(source string, startBalance float64) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runWriteLimit)
	defer cancel()
	return j.store.CreateRun(ctx, store.ScriptRun{
		SessionID:    j.sessionID,
		Source:       source,
		StartBalance: startBalance,
	})
}

func (j runJournal) RunEnded(id string, final scripting.Snapshot) error {
	end := store.RunEnd{State: string(final.State), Error: final.Error}
	if st := final.Stats; st != nil {
		end.FinalBalance = st.Balance
		end.Bets = st.Bets
		end.Wins = st.Wins
		end.Losses = st.Losses
		end.Cashouts = st.Cashouts
		end.Wagered = st.Wagered
		end.Profit = st.Profit
		end.HighestStreak = st.HighestStreak
		end.LowestStreak = st.LowestStreak
	}
	ctx, cancel := context.WithTimeout(context.Background(), runWriteLimit)
	defer cancel()
	return j.store.EndRun(ctx, id, end)
}
