package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMarshalJSON(t *testing.T) {
	t.Run("clamps non-finite floats", func(t *testing.T) {
		m := Metrics{
			ProfitFactor: math.Inf(1),
			Sharpe:       math.NaN(),
			MaxDrawdown:  math.Inf(-1),
			TotalTrades:  1,
			WonTrades:    1,
		}

		data, err := json.Marshal(m)

		require.NoError(t, err)
		var back Metrics
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, math.MaxFloat64, back.ProfitFactor)
		assert.Equal(t, -math.MaxFloat64, back.MaxDrawdown)
		assert.Zero(t, back.Sharpe)
	})

	t.Run("finite values pass through unchanged", func(t *testing.T) {
		m := Metrics{ProfitFactor: 2.5, Sharpe: 1.1, WinRate: 60}

		data, err := json.Marshal(m)

		require.NoError(t, err)
		var back Metrics
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, m.ProfitFactor, back.ProfitFactor)
		assert.Equal(t, m.Sharpe, back.Sharpe)
		assert.Equal(t, m.WinRate, back.WinRate)
	})
}

func TestFinite(t *testing.T) {
	assert.Equal(t, math.MaxFloat64, Finite(math.Inf(1)))
	assert.Equal(t, -math.MaxFloat64, Finite(math.Inf(-1)))
	assert.Zero(t, Finite(math.NaN()))
	assert.Equal(t, 1.5, Finite(1.5))
}
