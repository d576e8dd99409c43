package model

import "time"

// IndexRequest asks a worker to rebuild the index entries of the listed
// companies. An empty StockCodes means every company.
type IndexRequest struct {
	RequestID   string    `json:"request_id"`
	StockCodes  []string  `json:"stock_codes"`
	RequestedAt time.Time `json:"requested_at"`
}
