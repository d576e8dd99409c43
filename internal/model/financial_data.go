package model

import "time"

// FinancialData is one reported period of a company. FiscalQuarter is nil for
// full-year results; every amount is raw yen and nil when not reported.
type FinancialData struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	CompanyID          uint      `gorm:"not null;index" json:"company_id"`
	FiscalYear         int       `gorm:"not null;index" json:"fiscal_year"`
	FiscalQuarter      *int      `json:"fiscal_quarter"`
	Revenue            *int64    `json:"revenue"`
	OperatingProfit    *int64    `json:"operating_profit"`
	OrdinaryProfit     *int64    `json:"ordinary_profit"`
	NetProfit          *int64    `json:"net_profit"`
	TotalAssets        *int64    `json:"total_assets"`
	Equity             *int64    `json:"equity"`
	TotalLiabilities   *int64    `json:"total_liabilities"`
	CurrentAssets      *int64    `json:"current_assets"`
	CurrentLiabilities *int64    `json:"current_liabilities"`
	CreatedAt          time.Time `json:"created_at"`
}

func (FinancialData) TableName() string {
	return "financial_data"
}
