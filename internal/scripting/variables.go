package scripting

import (
	"strconv"

	"github.com/dop251/goja"
)

// CashOutAction is the value of the CASHOUT global. round() returns it to
// take the current reward.
const CashOutAction = "cashout"

// Variables is the script-visible state. Only nextbet, basebet, mines,
// fields, stoponwin and sleeptime are read back after a script call; the rest
// are refreshed from the session before every call.
type Variables struct {
	Balance     float64 `json:"balance"`
	NextBet     float64 `json:"nextbet"`
	BaseBet     float64 `json:"basebet"`
	PreviousBet float64 `json:"previousbet"`
	Win         bool    `json:"win"`
	Running     bool    `json:"running"`

	Stats *Statistics `json:"-"`

	Mines  int   `json:"mines"`
	Fields []int `json:"fields"`

	LastBet    map[string]any `json:"lastBet"`
	CurrentBet map[string]any `json:"currentBet"`

	StopOnWin   bool `json:"stoponwin"`
	SleepTime   int  `json:"sleeptime"`
	CashoutDone bool `json:"cashout_done"`
}

// NewVariables returns the defaults a script starts from.
func NewVariables(stats *Statistics, defaultMines int) *Variables {
	return &Variables{
		Stats:   stats,
		Balance: stats.Balance,
		Mines:   defaultMines,
		Fields:  []int{0, 1, 2},
		LastBet: map[string]any{
			"amount":           0.0,
			"payout":           0.0,
			"payoutMultiplier": 0.0,
			"win":              false,
			"outcome":          nil,
			"mines":            0,
			"revealed":         0,
		},
		CurrentBet: map[string]any{"active": false},
	}
}

func injectConstants(rt *goja.Runtime, gridSide int) {
	rt.Set("GRID_SIDE", gridSide)
	rt.Set("CASHOUT", CashOutAction)
}

func injectVariables(rt *goja.Runtime, vars *Variables) {
	rt.Set("balance", vars.Balance)
	rt.Set("nextbet", vars.NextBet)
	rt.Set("basebet", vars.BaseBet)
	rt.Set("previousbet", vars.PreviousBet)
	rt.Set("win", vars.Win)
	rt.Set("running", vars.Running)

	st := vars.Stats
	rt.Set("bets", st.Bets)
	rt.Set("wins", st.Wins)
	rt.Set("losses", st.Losses)
	rt.Set("cashouts", st.Cashouts)
	rt.Set("winstreak", st.WinStreak)
	rt.Set("losestreak", st.LoseStreak)
	rt.Set("currentstreak", st.CurrentStreak)
	rt.Set("profit", st.Profit)
	rt.Set("currentprofit", st.CurrentProfit)
	rt.Set("wagered", st.Wagered)
	rt.Set("highest_profit", st.HighestProfit)
	rt.Set("lowest_profit", st.LowestProfit)
	rt.Set("highest_bet", st.HighestBet)
	rt.Set("started_bal", st.StartBal)

	rt.Set("mines", vars.Mines)
	rt.Set("fields", vars.Fields)
	rt.Set("lastBet", vars.LastBet)
	rt.Set("currentBet", vars.CurrentBet)

	rt.Set("stoponwin", vars.StopOnWin)
	rt.Set("sleeptime", vars.SleepTime)
	rt.Set("cashout_done", vars.CashoutDone)
}

func syncFromVM(rt *goja.Runtime, vars *Variables) {
	vars.NextBet = toFloat64(rt.Get("nextbet"))
	vars.BaseBet = toFloat64(rt.Get("basebet"))
	vars.Mines = toInt(rt.Get("mines"))
	vars.Fields = toIntSlice(rt.Get("fields"))
	vars.StopOnWin = toBool(rt.Get("stoponwin"))
	vars.SleepTime = toInt(rt.Get("sleeptime"))
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func toFloat64(v goja.Value) float64 {
	if isNullish(v) {
		return 0
	}
	return v.ToFloat()
}

func toInt(v goja.Value) int {
	if isNullish(v) {
		return 0
	}
	return int(v.ToInteger())
}

func toBool(v goja.Value) bool {
	if isNullish(v) {
		return false
	}
	return v.ToBoolean()
}

// toIntSlice reads anything with a length and numeric keys: JS arrays as
// well as the Go slices injectVariables sets.
func toIntSlice(v goja.Value) []int {
	if isNullish(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	length := obj.Get("length")
	if isNullish(length) {
		return nil
	}
	out := make([]int, length.ToInteger())
	for i := range out {
		if el := obj.Get(strconv.Itoa(i)); !isNullish(el) {
			out[i] = int(el.ToInteger())
		}
	}
	return out
}

// exportInt accepts the numeric types goja exports.
func exportInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
