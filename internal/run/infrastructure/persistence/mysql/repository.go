package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/quantbacktest/internal/run/domain"
	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// AutoMigrate 建表/迁移运行编排涉及的全部表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&RunModel{},
		&RunResultModel{},
		&OptimizationVariantModel{},
		&WfoFoldModel{},
		&RunTradeModel{},
		&RunLogModel{},
	)
}

// --- Run Repository ---

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建运行任务仓储
func NewRunRepository(db *gorm.DB) domain.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Enqueue(ctx context.Context, run *domain.Run) error {
	model, err := toRunModel(run)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		logger.Error(ctx, "Failed to enqueue run", "run_id", run.ID, "error", err)
		return err
	}
	return nil
}

// FetchNextQueued 按提交时间认领最早的未锁定排队任务。
// SKIP LOCKED 保证并发轮询者互不阻塞；选中行在同一事务内置为 running，
// 锁释放后其他轮询者不会再把它当作 queued 读到。
func (r *runRepository) FetchNextQueued(ctx context.Context) (*domain.Run, error) {
	var claimed *domain.Run

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model RunModel
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_type IN ?", string(domain.StatusQueued), claimableTypes()).
			Order("started_at ASC").
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&RunModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"status":   string(domain.StatusRunning),
			"progress": 1,
		}).Error; err != nil {
			return err
		}

		model.Status = string(domain.StatusRunning)
		model.Progress = 1

		run, err := toRun(&model)
		if err != nil {
			return err
		}
		claimed = run
		return nil
	})
	if err != nil {
		logger.Error(ctx, "Failed to fetch next queued run", "error", err)
		return nil, err
	}
	return claimed, nil
}

func (r *runRepository) UpdateStatus(ctx context.Context, id int64, status domain.RunStatus, progress int, errMsg string) error {
	values := map[string]any{
		"status":   string(status),
		"progress": progress,
		"error":    errMsg,
	}
	if status.Terminal() {
		now := time.Now().UTC()
		values["ended_at"] = &now
	}

	result := r.db.WithContext(ctx).Model(&RunModel{}).
		Where("id = ? AND status IN ?", id, statusesAccepting(status)).
		Updates(values)
	if result.Error != nil {
		logger.Error(ctx, "Failed to update run status", "run_id", id, "status", status, "error", result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 对无变化的 UPDATE 也返回 0，需区分"无变化"、"非法迁移"与"不存在"
		var current RunModel
		err := r.db.WithContext(ctx).Select("status").Where("id = ?", id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrRunNotFound
		}
		if err != nil {
			return err
		}
		if cur := domain.RunStatus(current.Status); cur != status && !cur.CanTransitionTo(status) {
			return domain.ErrInvalidTransition
		}
	}
	return nil
}

// statusesAccepting 列出允许迁移到 next 的当前状态，终态的幂等重写也放行
func statusesAccepting(next domain.RunStatus) []string {
	all := []domain.RunStatus{domain.StatusQueued, domain.StatusRunning, domain.StatusSucceeded, domain.StatusFailed}
	accepted := make([]string, 0, len(all))
	for _, s := range all {
		if s == next || s.CanTransitionTo(next) {
			accepted = append(accepted, string(s))
		}
	}
	return accepted
}

func (r *runRepository) Get(ctx context.Context, id int64) (*domain.Run, error) {
	var model RunModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toRun(&model)
}

func (r *runRepository) ListRecent(ctx context.Context, runType domain.RunType, limit, offset int) ([]*domain.Run, error) {
	var models []*RunModel
	query := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Offset(offset)
	if runType != "" {
		query = query.Where("run_type = ?", string(runType))
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	runs := make([]*domain.Run, 0, len(models))
	for _, model := range models {
		run, err := toRun(model)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *runRepository) CountByStatus(ctx context.Context) (int64, int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&RunModel{}).
		Select("status, count(*) as n").
		Where("run_type IN ? AND status IN ?", claimableTypes(),
			[]string{string(domain.StatusQueued), string(domain.StatusRunning)}).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}

	var queued, running int64
	for _, r := range rows {
		switch domain.RunStatus(r.Status) {
		case domain.StatusQueued:
			queued = r.N
		case domain.StatusRunning:
			running = r.N
		}
	}
	return queued, running, nil
}

func claimableTypes() []string {
	types := make([]string, len(domain.ClaimableRunTypes))
	for i, t := range domain.ClaimableRunTypes {
		types[i] = string(t)
	}
	return types
}

// --- RunResult Repository ---

type runResultRepository struct {
	db *gorm.DB
}

// NewRunResultRepository 创建运行结果仓储
func NewRunResultRepository(db *gorm.DB) domain.RunResultRepository {
	return &runResultRepository{db: db}
}

func (r *runResultRepository) Add(ctx context.Context, result *domain.RunResult) error {
	model, err := toRunResultModel(result)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *runResultRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.RunResult, error) {
	var models []*RunResultModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Find(&models).Error; err != nil {
		return nil, err
	}
	results := make([]*domain.RunResult, 0, len(models))
	for _, model := range models {
		result, err := toRunResult(model)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// --- OptimizationVariant Repository ---

type optimizationVariantRepository struct {
	db *gorm.DB
}

// NewOptimizationVariantRepository 创建网格点评估结果仓储
func NewOptimizationVariantRepository(db *gorm.DB) domain.OptimizationVariantRepository {
	return &optimizationVariantRepository{db: db}
}

func (r *optimizationVariantRepository) Add(ctx context.Context, variant *domain.OptimizationVariant) error {
	model, err := toOptimizationVariantModel(variant)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *optimizationVariantRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.OptimizationVariant, error) {
	var models []*OptimizationVariantModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	variants := make([]*domain.OptimizationVariant, 0, len(models))
	for _, model := range models {
		variant, err := toOptimizationVariant(model)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

// --- WfoFold Repository ---

type wfoFoldRepository struct {
	db *gorm.DB
}

// NewWfoFoldRepository 创建滚动优化折仓储
func NewWfoFoldRepository(db *gorm.DB) domain.WfoFoldRepository {
	return &wfoFoldRepository{db: db}
}

func (r *wfoFoldRepository) Add(ctx context.Context, fold *domain.WfoFold) error {
	model, err := toWfoFoldModel(fold)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *wfoFoldRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.WfoFold, error) {
	var models []*WfoFoldModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("fold_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	folds := make([]*domain.WfoFold, 0, len(models))
	for _, model := range models {
		fold, err := toWfoFold(model)
		if err != nil {
			return nil, err
		}
		folds = append(folds, fold)
	}
	return folds, nil
}

// --- RunTrade Repository ---

type runTradeRepository struct {
	db *gorm.DB
}

// NewRunTradeRepository 创建已平仓交易仓储
func NewRunTradeRepository(db *gorm.DB) domain.RunTradeRepository {
	return &runTradeRepository{db: db}
}

func (r *runTradeRepository) SaveAll(ctx context.Context, trades []*domain.RunTrade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]*RunTradeModel, 0, len(trades))
	for _, trade := range trades {
		models = append(models, toRunTradeModel(trade))
	}
	return r.db.WithContext(ctx).Create(models).Error
}

func (r *runTradeRepository) ListByRun(ctx context.Context, runID int64) ([]*domain.RunTrade, error) {
	var models []*RunTradeModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("entry_time ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	trades := make([]*domain.RunTrade, 0, len(models))
	for _, model := range models {
		trade, err := toRunTrade(model)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// --- RunLog Repository ---

type runLogRepository struct {
	db *gorm.DB
}

// NewRunLogRepository 创建运行日志仓储
func NewRunLogRepository(db *gorm.DB) domain.RunLogRepository {
	return &runLogRepository{db: db}
}

func (r *runLogRepository) Append(ctx context.Context, entry *domain.RunLogEntry) error {
	return r.db.WithContext(ctx).Create(toRunLogModel(entry)).Error
}

func (r *runLogRepository) ListByRun(ctx context.Context, runID int64, limit, offset int) ([]*domain.RunLogEntry, error) {
	var models []*RunLogModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*domain.RunLogEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, toRunLogEntry(model))
	}
	return entries, nil
}
