package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus(t *testing.T) {
	t.Run("terminal states", func(t *testing.T) {
		assert.True(t, StatusSucceeded.Terminal())
		assert.True(t, StatusFailed.Terminal())
		assert.False(t, StatusQueued.Terminal())
		assert.False(t, StatusRunning.Terminal())
	})

	t.Run("allowed transitions", func(t *testing.T) {
		assert.True(t, StatusQueued.CanTransitionTo(StatusRunning))
		assert.True(t, StatusRunning.CanTransitionTo(StatusRunning))
		assert.True(t, StatusRunning.CanTransitionTo(StatusSucceeded))
		assert.True(t, StatusRunning.CanTransitionTo(StatusFailed))
	})

	t.Run("forbidden transitions", func(t *testing.T) {
		assert.False(t, StatusQueued.CanTransitionTo(StatusSucceeded))
		assert.False(t, StatusSucceeded.CanTransitionTo(StatusRunning))
		assert.False(t, StatusFailed.CanTransitionTo(StatusQueued))
	})
}

func TestNewRun(t *testing.T) {
	t.Run("defaults are applied", func(t *testing.T) {
		run, err := NewRun(1, RunTypeBacktest, "sma", "BTC-USDT", "1d", nil)

		require.NoError(t, err)
		assert.Equal(t, StatusQueued, run.Status)
		assert.Zero(t, run.Progress)
		assert.Equal(t, "10000", run.Cash.String())
		assert.Equal(t, "0.001", run.Commission.String())
		assert.True(t, run.SlipOpen)
		assert.False(t, run.StartedAt.IsZero())
		assert.NotNil(t, run.Params)
	})

	t.Run("rejects unknown run type", func(t *testing.T) {
		_, err := NewRun(1, RunType("train"), "sma", "BTC-USDT", "1d", nil)
		assert.Error(t, err)
	})

	t.Run("rejects missing identifiers", func(t *testing.T) {
		_, err := NewRun(1, RunTypeBacktest, "", "BTC-USDT", "1d", nil)
		assert.Error(t, err)
		_, err = NewRun(1, RunTypeBacktest, "sma", "", "1d", nil)
		assert.Error(t, err)
		_, err = NewRun(1, RunTypeBacktest, "sma", "BTC-USDT", "", nil)
		assert.Error(t, err)
	})
}

func TestRunParams(t *testing.T) {
	t.Run("typed accessors with fallbacks", func(t *testing.T) {
		p := RunParams{
			"grid_spec":    "fast=5:10:1",
			"objective":    "sharpe",
			"train_months": float64(6),
			"top_n":        3,
		}

		assert.Equal(t, "fast=5:10:1", p.GridSpec())
		assert.Equal(t, "sharpe", p.Objective())
		assert.Equal(t, 6, p.TrainMonths())
		assert.Equal(t, 3, p.TestMonths())
		assert.Equal(t, 3, p.StepMonths())
		assert.Equal(t, 3, p.TopN())
		assert.Equal(t, 1, p.MaxConcurrency())
	})

	t.Run("objective defaults to final", func(t *testing.T) {
		assert.Equal(t, "final", RunParams{}.Objective())
	})

	t.Run("strategy params exclude meta keys", func(t *testing.T) {
		p := RunParams{
			"fast":       float64(5),
			"slow":       10,
			"grid_spec":  "fast=5:10:1",
			"constraint": "fast<slow",
			"objective":  "pf",
			"label":      "not a number",
		}

		strat := p.StrategyParams()

		assert.Equal(t, map[string]float64{"fast": 5, "slow": 10}, strat)
	})

	t.Run("time accessor parses common layouts", func(t *testing.T) {
		p := RunParams{
			"start_ts": "2024-01-02T00:00:00Z",
			"end_ts":   "2024-06-30",
		}

		start := p.StartTs()
		require.NotNil(t, start)
		assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *start)

		end := p.EndTs()
		require.NotNil(t, end)
		assert.Equal(t, 2024, end.Year())
	})

	t.Run("unparseable time is nil", func(t *testing.T) {
		p := RunParams{"start_ts": "yesterday"}
		assert.Nil(t, p.StartTs())
	})
}
