package model

import "time"

// Company is a listed company keyed by its stock code.
type Company struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StockCode   string    `gorm:"size:10;not null;uniqueIndex" json:"stock_code"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Industry    string    `gorm:"size:100" json:"industry"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
