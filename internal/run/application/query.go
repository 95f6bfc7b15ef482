package application

import (
	"context"
	"fmt"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
)

// RunDetail 单条运行的完整视图
type RunDetail struct {
	Run      *domain.Run                   `json:"run"`
	Results  []*domain.RunResult           `json:"results"`
	Variants []*domain.OptimizationVariant `json:"variants,omitempty"`
	Folds    []*domain.WfoFold             `json:"folds,omitempty"`
	Trades   []*domain.RunTrade            `json:"trades,omitempty"`
}

// QueryService 运行查询服务
type QueryService struct {
	runs     domain.RunRepository
	results  domain.RunResultRepository
	variants domain.OptimizationVariantRepository
	folds    domain.WfoFoldRepository
	trades   domain.RunTradeRepository
	runLogs  domain.RunLogRepository
}

// NewQueryService 创建查询服务
func NewQueryService(
	runs domain.RunRepository,
	results domain.RunResultRepository,
	variants domain.OptimizationVariantRepository,
	folds domain.WfoFoldRepository,
	trades domain.RunTradeRepository,
	runLogs domain.RunLogRepository,
) *QueryService {
	return &QueryService{runs: runs, results: results, variants: variants, folds: folds, trades: trades, runLogs: runLogs}
}

// ListRuns 按类型分页列出运行，提交时间倒序
func (s *QueryService) ListRuns(ctx context.Context, runType domain.RunType, limit, offset int) ([]*domain.Run, error) {
	if !runType.Valid() {
		return nil, fmt.Errorf("unknown run type %q", runType)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.runs.ListRecent(ctx, runType, limit, offset)
}

// GetRun 按 ID 查询运行头记录
func (s *QueryService) GetRun(ctx context.Context, id int64) (*domain.Run, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// GetRunDetail 装配运行详情：头记录、结果，以及类型相关的子记录
func (s *QueryService) GetRunDetail(ctx context.Context, id int64) (*RunDetail, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{Run: run}
	if detail.Results, err = s.results.ListByRun(ctx, id); err != nil {
		return nil, err
	}

	switch run.RunType {
	case domain.RunTypeBacktest:
		if detail.Trades, err = s.trades.ListByRun(ctx, id); err != nil {
			return nil, err
		}
	case domain.RunTypeOptimize:
		if detail.Variants, err = s.variants.ListByRun(ctx, id); err != nil {
			return nil, err
		}
	case domain.RunTypeWalkForward:
		if detail.Folds, err = s.folds.ListByRun(ctx, id); err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// GetRunLogs 按时间升序分页读取运行日志
func (s *QueryService) GetRunLogs(ctx context.Context, id int64, limit, offset int) ([]*domain.RunLogEntry, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.runLogs.ListByRun(ctx, id, limit, offset)
}
