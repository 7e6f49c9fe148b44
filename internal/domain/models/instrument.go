package models

import "time"

// Instrument is a tradable symbol as described by the provider. Read-only.
type Instrument struct {
	MSID                int       `json:"mSID"`
	Type                int       `json:"type"`
	InstrumentID        int       `json:"instrumentID"`
	Symbol              string    `json:"symbol"`
	Name                string    `json:"name"`
	EarliestTradingDate time.Time `json:"earliestTradingDate"`
	LatestTradingDate   time.Time `json:"latestTradingDate"`
	HasComponents       bool      `json:"hasComponents"`
	HasOptions          bool      `json:"hasOptions"`
	IsActive            bool      `json:"isActive"`
}

// User is the authenticated provider account.
type User struct {
	CSUserID                     int    `json:"CSUserID"`
	DisplayName                  string `json:"DisplayName"`
	EmailAddress                 string `json:"EmailAddress"`
	IsSpecialAccount             bool   `json:"IsSpecialAccount"`
	RemainingTrialDays           int    `json:"RemainingTrialDays"`
	SessionID                    string `json:"SessionID"`
	UserDataInitializationFailed bool   `json:"UserDataInitializationFailed"`
	UserEntitlements             string `json:"UserEntitlements"`
	UserID                       int    `json:"UserID"`
	UserType                     int    `json:"UserType"`
}

// Constituent is an index member as listed by the constituents API.
type Constituent struct {
	Symbol         string  `json:"symbol" validate:"required"`
	Name           string  `json:"name"`
	Sector         string  `json:"sector"`
	SubSector      string  `json:"subSector"`
	HeadQuarter    *string `json:"headQuarter"`
	DateFirstAdded string  `json:"dateFirstAdded"`
	CIK            *string `json:"cik"`
	Founded        *string `json:"founded"`
}
