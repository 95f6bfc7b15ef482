package domain

import (
	"time"
)

// RunParams 任意键值参数文档：策略参数、网格描述、约束表达式、目标名、窗口长度、时间区间等。
// 编排核心只解析网格与约束，其余键原样透传给评估引擎。
type RunParams map[string]any

// 负责区分元参数与策略参数，与入队端的参数展开保持一致。
var metaKeys = map[string]struct{}{
	"grid":            {},
	"grid_spec":       {},
	"constraint":      {},
	"objective":       {},
	"train_months":    {},
	"test_months":     {},
	"step_months":     {},
	"start_ts":        {},
	"end_ts":          {},
	"max_concurrency": {},
	"top_n":           {},
}

// String 读取字符串参数
func (p RunParams) String(key, fallback string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// Int 读取整数参数，JSON 反序列化后的数值统一为 float64
func (p RunParams) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Float 读取浮点参数
func (p RunParams) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Bool 读取布尔参数
func (p RunParams) Bool(key string, fallback bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return fallback
}

// Time 读取 RFC3339 时间参数，缺失或无法解析时返回 nil
func (p RunParams) Time(key string) *time.Time {
	s := p.String(key, "")
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// GridSpec 网格描述字符串，如 "fast=5:10:1,slow=20:20:1"
func (p RunParams) GridSpec() string { return p.String("grid_spec", "") }

// Constraint 布尔约束表达式，如 "fast<slow"
func (p RunParams) Constraint() string { return p.String("constraint", "") }

// Objective 目标名：final | sharpe | pf
func (p RunParams) Objective() string { return p.String("objective", "final") }

// TrainMonths 训练窗口长度（月）
func (p RunParams) TrainMonths() int { return p.Int("train_months", 12) }

// TestMonths 测试窗口长度（月）
func (p RunParams) TestMonths() int { return p.Int("test_months", 3) }

// StepMonths 窗口步进长度（月）
func (p RunParams) StepMonths() int { return p.Int("step_months", 3) }

// MaxConcurrency 网格评估的最大并发度
func (p RunParams) MaxConcurrency() int {
	if n := p.Int("max_concurrency", 1); n > 0 {
		return n
	}
	return 1
}

// TopN 滚动优化报告中保留的最优折数
func (p RunParams) TopN() int {
	if n := p.Int("top_n", 5); n > 0 {
		return n
	}
	return 5
}

// StartTs 显式时间区间起点
func (p RunParams) StartTs() *time.Time { return p.Time("start_ts") }

// EndTs 显式时间区间终点
func (p RunParams) EndTs() *time.Time { return p.Time("end_ts") }

// StrategyParams 过滤掉元参数后的策略参数，数值统一为 float64
func (p RunParams) StrategyParams() map[string]float64 {
	out := make(map[string]float64)
	for k, v := range p {
		if _, meta := metaKeys[k]; meta {
			continue
		}
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		}
	}
	return out
}
