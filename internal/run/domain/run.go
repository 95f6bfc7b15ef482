// Package domain 定义运行编排的核心聚合：Run 及其子记录、状态机与仓储接口。
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunType 运行类型
type RunType string

const (
	RunTypeBacktest    RunType = "backtest"
	RunTypeOptimize    RunType = "optimize"
	RunTypeWalkForward RunType = "walk_forward"
)

// ClaimableRunTypes 是 worker 认领时允许的运行类型集合
var ClaimableRunTypes = []RunType{RunTypeBacktest, RunTypeOptimize, RunTypeWalkForward}

// Valid 判断运行类型是否合法
func (t RunType) Valid() bool {
	switch t {
	case RunTypeBacktest, RunTypeOptimize, RunTypeWalkForward:
		return true
	}
	return false
}

// RunStatus 运行状态
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Terminal 判断状态是否为终态
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransitionTo 状态机约束：queued → running → {succeeded, failed}
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusRunning || next == StatusSucceeded || next == StatusFailed
	}
	return false
}

var (
	// ErrRunNotFound 目标运行记录不存在
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidTransition 非法的状态迁移
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// Run 一条持久化的运行任务记录，回测 / 参数寻优 / 滚动优化共用。
// 创建后仅由持有认领的 worker 修改。
type Run struct {
	ID           int64
	RunType      RunType
	Status       RunStatus
	Progress     int
	StrategyName string
	InstrumentID string
	Timeframe    string
	Params       RunParams

	// 成本模型
	Cash       decimal.Decimal
	Commission decimal.Decimal
	SlipPerc   decimal.Decimal
	SlipFixed  decimal.Decimal
	SlipOpen   bool
	Baseline   bool

	StartedAt time.Time
	EndedAt   *time.Time
	Error     string
	Notes     string
}

// NewRun 构造一条排队中的运行记录
func NewRun(id int64, runType RunType, strategy, instrument, timeframe string, params RunParams) (*Run, error) {
	if !runType.Valid() {
		return nil, fmt.Errorf("unknown run type %q", runType)
	}
	if strategy == "" || instrument == "" || timeframe == "" {
		return nil, errors.New("strategy, instrument and timeframe are required")
	}
	if params == nil {
		params = RunParams{}
	}
	return &Run{
		ID:           id,
		RunType:      runType,
		Status:       StatusQueued,
		Progress:     0,
		StrategyName: strategy,
		InstrumentID: instrument,
		Timeframe:    timeframe,
		Params:       params,
		Cash:         decimal.NewFromInt(10000),
		Commission:   decimal.NewFromFloat(0.001),
		SlipPerc:     decimal.Zero,
		SlipFixed:    decimal.Zero,
		SlipOpen:     true,
		Baseline:     false,
		StartedAt:    time.Now().UTC(),
	}, nil
}
