package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

var outcomes = []mines.Outcome{mines.OutcomeWin, mines.OutcomeLoss, mines.OutcomeCashedOut}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// decodeAmount reads a JSON string or number as a decimal. Anything else is
// reported as sentinel so the caller sees the amount error, not a body error.
func decodeAmount(raw json.RawMessage, sentinel error) (decimal.Decimal, error) {
	var d decimal.Decimal
	if len(raw) == 0 {
		return d, fmt.Errorf("%w: missing", sentinel)
	}
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s is not a number", sentinel, raw)
	}
	return d, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON")
		return
	}
	amount, err := decodeAmount(req.Amount, session.ErrInvalidAmount)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	balance, err := s.session.Deposit(amount)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, DepositResponse{Balance: balance})
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON")
		return
	}
	bet, err := decodeAmount(req.Bet, mines.ErrInvalidBet)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	mineCount := s.opts.DefaultMines
	if req.Mines != nil {
		mineCount = *req.Mines
	}
	snap, err := s.session.PlaceBet(bet, mineCount)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Engine().Snapshot())
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON")
		return
	}
	var x, y int
	switch {
	case req.X != nil && req.Y != nil:
		x, y = *req.X, *req.Y
	case req.Index != nil:
		side := s.session.Engine().Config().GridSide
		if *req.Index < 0 || *req.Index >= side*side {
			s.errorHandler.HandleError(w, r, fmt.Errorf("%w: index %d", mines.ErrOutOfBounds, *req.Index))
			return
		}
		p := mines.PositionAt(*req.Index, side)
		x, y = p.X, p.Y
	default:
		s.errorHandler.HandleValidationError(w, r, "x/y", "either x and y or index is required")
		return
	}

	rev, err := s.session.Reveal(x, y)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, RevealResponse{Reveal: rev, Balance: s.session.Balance()})
}

func (s *Server) handleCashOut(w http.ResponseWriter, r *http.Request) {
	result, err := s.session.CashOut()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CashOutResponse{Result: result, Balance: s.session.Balance()})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeUnavailable, "journal disabled").Build())
		return
	}
	q := r.URL.Query()
	filter := store.RoundFilter{SessionID: s.session.ID()}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		s.errorHandler.HandleValidationError(w, r, "limit", err.Error())
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		s.errorHandler.HandleValidationError(w, r, "offset", err.Error())
		return
	}
	if o := q.Get("outcome"); o != "" {
		if !lo.Contains(outcomes, mines.Outcome(o)) {
			s.errorHandler.HandleValidationError(w, r, "outcome", fmt.Sprintf("unknown outcome %q", o))
			return
		}
		filter.Outcome = mines.Outcome(o)
	}

	page, err := s.journal.ListRounds(r.Context(), filter)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{
		Rounds:     lo.Map(page.Rounds, func(rec store.RoundRecord, _ int) RoundView { return toRoundView(rec) }),
		TotalCount: page.TotalCount,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorHandler.HandleError(w, r, NewError(ErrTypeUnavailable, "journal disabled").Build())
		return
	}
	detail, err := s.journal.GetRound(r.Context(), chi.URLParam(r, "id"))
	if err == nil && detail.SessionID != s.session.ID() {
		err = store.ErrNotFound
	}
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	st := s.session.Status()
	resp := SummaryResponse{SessionID: st.ID, Balance: st.Balance, Session: st.Totals}
	if s.journal != nil {
		sum, err := s.journal.Summary(r.Context(), st.ID)
		if err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		resp.Journal = sum
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func toRoundView(rec store.RoundRecord) RoundView {
	return RoundView{
		ID:        rec.ID,
		Outcome:   rec.Outcome,
		Bet:       rec.Bet,
		Payout:    rec.Payout,
		Profit:    rec.Payout.Sub(rec.Bet),
		MineCount: rec.MineCount,
		Revealed:  rec.Revealed,
		TotalSafe: rec.TotalSafe,
		EndedAt:   rec.EndedAt,
	}
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}
