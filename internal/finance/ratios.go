// Package finance computes the per-year percentage ratios that describe a
// company's financial health. A ratio is nil whenever an operand is missing
// or its denominator is zero; callers must omit it rather than print zero.
package finance

import "math"

// Inputs are the raw figures of one financial record, in yen.
type Inputs struct {
	Revenue            *int64
	OperatingProfit    *int64
	NetProfit          *int64
	TotalAssets        *int64
	Equity             *int64
	TotalLiabilities   *int64
	CurrentAssets      *int64
	CurrentLiabilities *int64
}

// Ratios holds percentages rounded to two decimals.
type Ratios struct {
	EquityRatio     *float64 `json:"equity_ratio"`
	CurrentRatio    *float64 `json:"current_ratio"`
	DebtRatio       *float64 `json:"debt_ratio"`
	ROE             *float64 `json:"roe"`
	OperatingMargin *float64 `json:"operating_margin"`
}

// Defined reports whether at least one ratio could be computed.
func (r Ratios) Defined() bool {
	return r.EquityRatio != nil || r.CurrentRatio != nil || r.DebtRatio != nil ||
		r.ROE != nil || r.OperatingMargin != nil
}

func Calculate(in Inputs) Ratios {
	return Ratios{
		EquityRatio:     percent(in.Equity, in.TotalAssets),
		CurrentRatio:    percent(in.CurrentAssets, in.CurrentLiabilities),
		DebtRatio:       percent(in.TotalLiabilities, in.TotalAssets),
		ROE:             percent(in.NetProfit, in.Equity),
		OperatingMargin: percent(in.OperatingProfit, in.Revenue),
	}
}

func percent(numerator, denominator *int64) *float64 {
	if numerator == nil || denominator == nil || *denominator == 0 {
		return nil
	}
	v := round2(float64(*numerator) / float64(*denominator) * 100)
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
