package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stockqa/internal/model"
	"stockqa/internal/rag"
)

// CompanyRepository reads companies and their reported financials. It is the
// source of truth the index is built from.
type CompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

func (r *CompanyRepository) Create(ctx context.Context, company *model.Company) error {
	if err := r.db.WithContext(ctx).Create(company).Error; err != nil {
		return fmt.Errorf("create company failed: %w", err)
	}
	return nil
}

func (r *CompanyRepository) CreateFinancials(ctx context.Context, rows []model.FinancialData) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("create financial data batch failed: %w", err)
	}
	return nil
}

func (r *CompanyRepository) GetByStockCode(ctx context.Context, stockCode string) (*model.Company, error) {
	var company model.Company
	if err := r.db.WithContext(ctx).Where("stock_code = ?", stockCode).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query company by stock code failed: %w", err)
	}
	return &company, nil
}

// ListStockCodes returns every known stock code in ascending order.
func (r *CompanyRepository) ListStockCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.Company{}).Order("stock_code ASC").Pluck("stock_code", &codes).Error; err != nil {
		return nil, fmt.Errorf("list stock codes failed: %w", err)
	}
	return codes, nil
}

// ListFinancials returns all periods of a company, newest fiscal year first.
func (r *CompanyRepository) ListFinancials(ctx context.Context, companyID uint) ([]model.FinancialData, error) {
	var rows []model.FinancialData
	if err := r.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("fiscal_year DESC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list financial data failed: %w", err)
	}
	return rows, nil
}

// LoadEntity assembles the snapshot the chunk builder works from. It returns
// nil, nil when the stock code is unknown.
func (r *CompanyRepository) LoadEntity(ctx context.Context, stockCode string) (*rag.Entity, error) {
	company, err := r.GetByStockCode(ctx, stockCode)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, nil
	}
	rows, err := r.ListFinancials(ctx, company.ID)
	if err != nil {
		return nil, err
	}

	entity := &rag.Entity{
		ID:          company.StockCode,
		Name:        company.Name,
		Industry:    company.Industry,
		Description: company.Description,
		Financials:  make([]rag.FinancialRecord, 0, len(rows)),
	}
	for _, row := range rows {
		entity.Financials = append(entity.Financials, rag.FinancialRecord{
			FiscalYear:         row.FiscalYear,
			FiscalQuarter:      row.FiscalQuarter,
			Revenue:            row.Revenue,
			OperatingProfit:    row.OperatingProfit,
			OrdinaryProfit:     row.OrdinaryProfit,
			NetProfit:          row.NetProfit,
			TotalAssets:        row.TotalAssets,
			Equity:             row.Equity,
			TotalLiabilities:   row.TotalLiabilities,
			CurrentAssets:      row.CurrentAssets,
			CurrentLiabilities: row.CurrentLiabilities,
		})
	}
	return entity, nil
}
