package rag

import (
	"fmt"
	"sort"
	"strings"

	"stockqa/internal/finance"
)

const (
	DefaultSeriesYears = 10
	DefaultRatioYears  = 5

	unknownIndustry    = "unknown"
	missingDescription = "no information"

	// Monetary figures are written in units of 100 million yen.
	moneyScale = 1e8
	moneyUnit  = "hundred million yen"
)

// ChunkBuilder turns an entity snapshot into its ordered chunk list.
// SeriesYears bounds the records in the financial_series chunk; RatioYears
// bounds how many of the most recent years get a financial_ratios chunk.
type ChunkBuilder struct {
	SeriesYears int
	RatioYears  int
}

func NewChunkBuilder(seriesYears, ratioYears int) *ChunkBuilder {
	if seriesYears <= 0 {
		seriesYears = DefaultSeriesYears
	}
	if ratioYears < 0 {
		ratioYears = DefaultRatioYears
	}
	if ratioYears > seriesYears {
		ratioYears = seriesYears
	}
	return &ChunkBuilder{SeriesYears: seriesYears, RatioYears: ratioYears}
}

// Build is deterministic: the same snapshot always yields the same chunks,
// ids included.
func (b *ChunkBuilder) Build(e Entity) []Chunk {
	chunks := []Chunk{b.profileChunk(e)}

	annual := recentFullYears(e.Financials, b.SeriesYears)
	if len(annual) == 0 {
		return b.assignIDs(e.ID, chunks)
	}

	chunks = append(chunks, b.seriesChunk(e, annual))

	ratioYears := b.RatioYears
	if ratioYears > len(annual) {
		ratioYears = len(annual)
	}
	for _, rec := range annual[:ratioYears] {
		if c, ok := b.ratiosChunk(e, rec); ok {
			chunks = append(chunks, c)
		}
	}
	return b.assignIDs(e.ID, chunks)
}

// HasFinancialChunks reports whether chunks contain anything besides the profile.
func HasFinancialChunks(chunks []Chunk) bool {
	for _, c := range chunks {
		if c.Metadata.ChunkType != ChunkProfile {
			return true
		}
	}
	return false
}

func (b *ChunkBuilder) assignIDs(entityID string, chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].ID = ChunkID(entityID, chunks[i].Metadata.ChunkType, i)
	}
	return chunks
}

func (b *ChunkBuilder) profileChunk(e Entity) Chunk {
	industry := strings.TrimSpace(e.Industry)
	if industry == "" {
		industry = unknownIndustry
	}
	description := strings.TrimSpace(e.Description)
	if description == "" {
		description = missingDescription
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n", e.Name)
	fmt.Fprintf(&sb, "Stock code: %s\n", e.ID)
	fmt.Fprintf(&sb, "Industry: %s\n", industry)
	fmt.Fprintf(&sb, "Business description: %s", description)

	return Chunk{
		Text: sb.String(),
		Metadata: Metadata{
			EntityID:   e.ID,
			EntityName: e.Name,
			ChunkType:  ChunkProfile,
		},
	}
}

func (b *ChunkBuilder) seriesChunk(e Entity, annual []FinancialRecord) Chunk {
	lines := []string{fmt.Sprintf("Financial results of %s (%s):", e.Name, e.ID)}
	for _, rec := range annual {
		fields := moneyFields(rec)
		lines = append(lines, "", fmt.Sprintf("[FY%d]", rec.FiscalYear))
		if len(fields) == 0 {
			lines = append(lines, "no figures reported")
			continue
		}
		lines = append(lines, strings.Join(fields, ", "))
	}

	return Chunk{
		Text: strings.Join(lines, "\n"),
		Metadata: Metadata{
			EntityID:   e.ID,
			EntityName: e.Name,
			ChunkType:  ChunkFinancialSeries,
		},
	}
}

func (b *ChunkBuilder) ratiosChunk(e Entity, rec FinancialRecord) (Chunk, bool) {
	ratios := finance.Calculate(finance.Inputs{
		Revenue:            rec.Revenue,
		OperatingProfit:    rec.OperatingProfit,
		NetProfit:          rec.NetProfit,
		TotalAssets:        rec.TotalAssets,
		Equity:             rec.Equity,
		TotalLiabilities:   rec.TotalLiabilities,
		CurrentAssets:      rec.CurrentAssets,
		CurrentLiabilities: rec.CurrentLiabilities,
	})
	if !ratios.Defined() {
		return Chunk{}, false
	}

	lines := []string{fmt.Sprintf("Financial ratios of %s (%s) for FY%d:", e.Name, e.ID, rec.FiscalYear)}
	lines = appendPercent(lines, "Equity ratio", ratios.EquityRatio)
	lines = appendPercent(lines, "Current ratio", ratios.CurrentRatio)
	lines = appendPercent(lines, "Debt ratio", ratios.DebtRatio)
	lines = appendPercent(lines, "ROE (return on equity)", ratios.ROE)
	lines = appendPercent(lines, "Operating margin", ratios.OperatingMargin)

	year := rec.FiscalYear
	return Chunk{
		Text: strings.Join(lines, "\n"),
		Metadata: Metadata{
			EntityID:     e.ID,
			EntityName:   e.Name,
			ChunkType:    ChunkFinancialRatios,
			FiscalPeriod: &year,
		},
	}, true
}

// recentFullYears returns up to limit full-year records, newest first.
func recentFullYears(records []FinancialRecord, limit int) []FinancialRecord {
	annual := make([]FinancialRecord, 0, len(records))
	for _, r := range records {
		if r.FullYear() {
			annual = append(annual, r)
		}
	}
	sort.SliceStable(annual, func(i, j int) bool {
		return annual[i].FiscalYear > annual[j].FiscalYear
	})
	if len(annual) > limit {
		annual = annual[:limit]
	}
	return annual
}

func moneyFields(rec FinancialRecord) []string {
	var fields []string
	fields = appendMoney(fields, "Revenue", rec.Revenue)
	fields = appendMoney(fields, "Operating profit", rec.OperatingProfit)
	fields = appendMoney(fields, "Ordinary profit", rec.OrdinaryProfit)
	fields = appendMoney(fields, "Net profit", rec.NetProfit)
	fields = appendMoney(fields, "Total assets", rec.TotalAssets)
	fields = appendMoney(fields, "Equity", rec.Equity)
	return fields
}

func appendMoney(fields []string, label string, v *int64) []string {
	if v == nil {
		return fields
	}
	return append(fields, fmt.Sprintf("%s: %.2f %s", label, float64(*v)/moneyScale, moneyUnit))
}

func appendPercent(lines []string, label string, v *float64) []string {
	if v == nil {
		return lines
	}
	return append(lines, fmt.Sprintf("%s: %.2f%%", label, *v))
}
