package models

import "time"

// Bar is one simulated trading day presented to the signal engine.
type Bar struct {
	Date  time.Time
	Price float64 // close
	Cash  float64
}

// DailyPrice is one row of a daily OHLCV series.
type DailyPrice struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64
}
