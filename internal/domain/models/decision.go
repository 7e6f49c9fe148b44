package models

import "time"

// Action is what the signal engine did on a bar.
type Action string

const (
	ActionSkip  Action = "skip"  // flat, no eligible pattern
	ActionHold  Action = "hold"  // no transition
	ActionBuy   Action = "buy"   // FLAT -> LONG
	ActionClose Action = "close" // LONG -> FLAT
)

// Rule names the condition behind an entry or exit.
type Rule string

const (
	RulePivotBreakout Rule = "pivot-breakout"
	RuleTakeProfit    Rule = "take-profit"
	RuleStopLoss      Rule = "stop-loss"
	RuleTimeDecay     Rule = "time-decay"
)

// Decision is the audited outcome of one bar.
type Decision struct {
	RunID      string    `json:"run_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Date       time.Time `json:"date"`
	Action     Action    `json:"action"`
	Rules      []Rule    `json:"rules,omitempty"`
	Price      float64   `json:"price"`
	PivotPrice float64   `json:"pivot_price,omitempty"`
	Size       float64   `json:"size,omitempty"`
	BaseID     int       `json:"base_id,omitempty"`
}

// IsTrade reports whether the decision submitted an order.
func (d Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionClose
}

// BacktestReport summarizes one replay of a price series.
type BacktestReport struct {
	RunID         string     `json:"run_id"`
	Symbol        string     `json:"symbol"`
	Patterns      int        `json:"patterns"`
	Bars          int        `json:"bars"`
	FailedBars    int        `json:"failed_bars"`
	StartingValue float64    `json:"starting_value"`
	FinalValue    float64    `json:"final_value"`
	Trades        []Decision `json:"trades"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
}
