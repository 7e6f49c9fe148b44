package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type PatternsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,max=12"`
	Start  string `query:"start" json:"start" default:"2015-01-01" validate:"datetime=2006-01-02"`
	End    string `query:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
}

type BacktestRequest struct {
	Symbol string `json:"symbol" validate:"required,max=12"`
	Start  string `json:"start" default:"2015-01-01" validate:"datetime=2006-01-02"`
	End    string `json:"end" validate:"omitempty,datetime=2006-01-02"`
}
