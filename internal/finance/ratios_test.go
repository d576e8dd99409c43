package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestCalculate_AllRatios(t *testing.T) {
	r := Calculate(Inputs{
		Revenue:            i64(1_000),
		OperatingProfit:    i64(123),
		NetProfit:          i64(50),
		TotalAssets:        i64(3_000),
		Equity:             i64(1_000),
		TotalLiabilities:   i64(2_000),
		CurrentAssets:      i64(1_500),
		CurrentLiabilities: i64(1_000),
	})

	require.True(t, r.Defined())
	require.NotNil(t, r.EquityRatio)
	assert.Equal(t, 33.33, *r.EquityRatio)
	assert.Equal(t, 150.0, *r.CurrentRatio)
	assert.Equal(t, 66.67, *r.DebtRatio)
	assert.Equal(t, 5.0, *r.ROE)
	assert.Equal(t, 12.3, *r.OperatingMargin)
}

func TestCalculate_MissingOperandIsUndefined(t *testing.T) {
	r := Calculate(Inputs{
		Revenue: i64(1_000),
		Equity:  i64(500),
	})

	assert.Nil(t, r.EquityRatio, "total assets missing")
	assert.Nil(t, r.DebtRatio)
	assert.Nil(t, r.CurrentRatio)
	assert.Nil(t, r.ROE, "net profit missing")
	assert.Nil(t, r.OperatingMargin, "operating profit missing")
	assert.False(t, r.Defined())
}

func TestCalculate_ZeroDenominatorIsUndefined(t *testing.T) {
	r := Calculate(Inputs{
		Revenue:         i64(0),
		OperatingProfit: i64(10),
		NetProfit:       i64(10),
		Equity:          i64(0),
		TotalAssets:     i64(100),
	})

	assert.Nil(t, r.OperatingMargin)
	assert.Nil(t, r.ROE)
	require.NotNil(t, r.EquityRatio)
	assert.Equal(t, 0.0, *r.EquityRatio)
}

func TestCalculate_NegativeValues(t *testing.T) {
	r := Calculate(Inputs{
		NetProfit: i64(-25),
		Equity:    i64(200),
	})

	require.NotNil(t, r.ROE)
	assert.Equal(t, -12.5, *r.ROE)
}
