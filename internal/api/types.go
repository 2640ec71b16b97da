package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types
const (
	ErrTypeInvalidBet        = "invalid_bet"
	ErrTypeInvalidMineCount  = "invalid_mine_count"
	ErrTypeOutOfBounds       = "out_of_bounds"
	ErrTypeInvalidAmount     = "invalid_amount"
	ErrTypeValidation        = "validation_error"
	ErrTypeNotInProgress     = "not_in_progress"
	ErrTypeRoundInProgress   = "round_in_progress"
	ErrTypeInsufficientFunds = "insufficient_funds"
	ErrTypeUnauthorized      = "unauthorized"
	ErrTypeRoundNotFound     = "round_not_found"
	ErrTypeTimeout           = "timeout"
	ErrTypeInternal          = "internal_error"
	ErrTypeUnavailable       = "service_unavailable"
)

// ErrorCategory groups error types for logging.
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategoryAuth       ErrorCategory = "auth"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidBet, ErrTypeInvalidMineCount, ErrTypeOutOfBounds, ErrTypeInvalidAmount, ErrTypeValidation:
		return CategoryValidation
	case ErrTypeNotInProgress, ErrTypeRoundInProgress, ErrTypeInsufficientFunds, ErrTypeRoundNotFound:
		return CategoryGame
	case ErrTypeUnauthorized:
		return CategoryAuth
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains engine version information
type VersionInfo struct {
	EngineVersion string `json:"engine_version"`
	GitCommit     string `json:"git_commit,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
}

// PlaceBetRequest starts a round. Mines defaults to the configured count.
// Bet is a decimal given as a JSON string or number.
type PlaceBetRequest struct {
	Bet   json.RawMessage `json:"bet"`
	Mines *int            `json:"mines,omitempty"`
}

// RevealRequest addresses a cell either by column and row or by row-major
// index.
type RevealRequest struct {
	X     *int `json:"x,omitempty"`
	Y     *int `json:"y,omitempty"`
	Index *int `json:"index,omitempty"`
}

// DepositRequest adds funds to the session.
type DepositRequest struct {
	Amount json.RawMessage `json:"amount"`
}

// DepositResponse reports the balance after a deposit.
type DepositResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// RevealResponse is the reveal outcome plus the balance after any payout.
type RevealResponse struct {
	mines.Reveal
	Balance decimal.Decimal `json:"balance"`
}

// CashOutResponse is the round result plus the balance after the payout.
type CashOutResponse struct {
	Result  mines.RoundResult `json:"result"`
	Balance decimal.Decimal   `json:"balance"`
}

// RoundView is a history row without the mine layout.
type RoundView struct {
	ID        string          `json:"id"`
	Outcome   mines.Outcome   `json:"outcome"`
	Bet       decimal.Decimal `json:"bet"`
	Payout    decimal.Decimal `json:"payout"`
	Profit    decimal.Decimal `json:"profit"`
	MineCount int             `json:"mineCount"`
	Revealed  int             `json:"revealed"`
	TotalSafe int             `json:"totalSafe"`
	EndedAt   time.Time       `json:"endedAt"`
}

// HistoryResponse is one page of round history.
type HistoryResponse struct {
	Rounds     []RoundView `json:"rounds"`
	TotalCount int         `json:"totalCount"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// SummaryResponse combines live session totals with the journal aggregate.
type SummaryResponse struct {
	SessionID string          `json:"sessionId"`
	Balance   decimal.Decimal `json:"balance"`
	Session   session.Totals  `json:"session"`
	Journal   store.Summary   `json:"journal"`
}
