package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ResultLabel 结果标签
type ResultLabel string

const (
	LabelMain     ResultLabel = "main"
	LabelBaseline ResultLabel = "baseline"
)

// Metrics 一次评估产出的绩效指标文档
type Metrics struct {
	FinalValue   decimal.Decimal `json:"final_value"`
	PnL          decimal.Decimal `json:"pnl"`
	Sharpe       float64         `json:"sharpe"`
	MaxDrawdown  float64         `json:"max_drawdown"`
	SQN          float64         `json:"sqn"`
	WinRate      float64         `json:"win_rate"`
	ProfitFactor float64         `json:"profit_factor"`
	TotalTrades  int             `json:"total_trades"`
	WonTrades    int             `json:"won_trades"`
	LostTrades   int             `json:"lost_trades"`
	// EquityCurve 仅在主结果上嵌入，按 bar 顺序记录组合净值。
	EquityCurve []decimal.Decimal `json:"equity_curve,omitempty"`
}

// Finite 将非有限浮点值钳制为可序列化的有限值。
// 全胜序列的盈亏比为 +Inf，落库前必须钳制。
func Finite(f float64) float64 {
	switch {
	case math.IsInf(f, 1):
		return math.MaxFloat64
	case math.IsInf(f, -1):
		return -math.MaxFloat64
	case math.IsNaN(f):
		return 0
	}
	return f
}

// MarshalJSON 在序列化前钳制非有限浮点字段，
// 保证指标文档始终可以写入 JSON 列。
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	c := plain(m)
	c.Sharpe = Finite(c.Sharpe)
	c.MaxDrawdown = Finite(c.MaxDrawdown)
	c.SQN = Finite(c.SQN)
	c.WinRate = Finite(c.WinRate)
	c.ProfitFactor = Finite(c.ProfitFactor)
	return json.Marshal(c)
}

// RunResult 一条带标签的运行结果记录，随 Run 级联删除
type RunResult struct {
	ID       int64
	RunID    int64
	Label    ResultLabel
	Params   RunParams
	Metrics  Metrics
	PlotPath string
}

// OptimizationVariant optimize 运行中每个网格点一条记录，运行期间仅追加
type OptimizationVariant struct {
	ID            int64
	RunID         int64
	VariantParams map[string]float64
	FinalValue    decimal.Decimal
	Sharpe        float64
	MaxDD         float64
	WinRate       float64
	ProfitFactor  float64
	SQN           float64
	TotalTrades   int
	CreatedAt     time.Time
}

// WfoFold 滚动优化的一折：训练/测试窗口、选出的参数组合与样本外指标。
// 仅追加，按 FoldIndex 升序。
type WfoFold struct {
	ID             int64
	RunID          int64
	FoldIndex      int
	TrainStart     time.Time
	TrainEnd       time.Time
	TestStart      time.Time
	TestEnd        time.Time
	Params         map[string]float64
	TrainObjective float64
	Metrics        Metrics
}

// RunTrade 主结果的一笔已平仓交易，随 Run 级联删除
type RunTrade struct {
	ID         int64
	RunID      int64
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Size       decimal.Decimal
	PnL        decimal.Decimal
}

// RunLogEntry 关联到 Run 的仅追加日志流
type RunLogEntry struct {
	ID      int64
	RunID   int64
	Ts      time.Time
	Level   string
	Message string
}
