package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/wyfcoding/quantbacktest/internal/engine"
)

// Objective 参数寻优的目标函数
type Objective string

const (
	// ObjectiveFinal 最终组合价值
	ObjectiveFinal Objective = "final"
	// ObjectiveSharpe 年化夏普比率
	ObjectiveSharpe Objective = "sharpe"
	// ObjectivePF 盈亏比（profit factor）
	ObjectivePF Objective = "pf"
)

// ParseObjective 解析目标函数名称
func ParseObjective(name string) (Objective, error) {
	switch Objective(strings.ToLower(strings.TrimSpace(name))) {
	case ObjectiveFinal, "":
		return ObjectiveFinal, nil
	case ObjectiveSharpe:
		return ObjectiveSharpe, nil
	case ObjectivePF:
		return ObjectivePF, nil
	}
	return "", fmt.Errorf("unknown objective %q, expected final, sharpe or pf", name)
}

// Value 从回测结果中提取目标值。
// 盈亏比为 +Inf 时（无亏损交易）折算为一个足够大的有限值，保证可比较、可落库。
func (o Objective) Value(result *engine.Result) float64 {
	if result == nil {
		return math.Inf(-1)
	}
	switch o {
	case ObjectiveSharpe:
		return result.Sharpe
	case ObjectivePF:
		pf := result.ProfitFactor
		if math.IsInf(pf, 1) {
			return math.MaxFloat64
		}
		return pf
	default:
		v, _ := result.FinalValue.Float64()
		return v
	}
}
