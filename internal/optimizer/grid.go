// Package optimizer 提供参数网格求值、约束过滤与滚动（walk-forward）优化算法
package optimizer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/wyfcoding/quantbacktest/pkg/logger"
)

// ParamRange 单个参数的闭区间整数取值范围
type ParamRange struct {
	Name  string
	Start int
	Stop  int
	Step  int
}

// Values 范围展开后的取值列表，升序
func (r ParamRange) Values() []int {
	values := make([]int, 0, (r.Stop-r.Start)/r.Step+1)
	for v := r.Start; v <= r.Stop; v += r.Step {
		values = append(values, v)
	}
	return values
}

// Grid 参数搜索空间。参数按名称字典序排列，
// 组合枚举顺序因此是确定的，目标值相同时保留先枚举到的组合。
type Grid struct {
	ranges []ParamRange
}

// ParseGridSpec 解析 "fast=5:10:1,slow=20:20:1" 形式的网格描述
func ParseGridSpec(spec string) (*Grid, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty grid spec")
	}

	seen := make(map[string]struct{})
	var ranges []ParamRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rangeTxt, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid grid entry %q: expected name=start:stop:step", part)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid grid entry %q: empty parameter name", part)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate grid parameter %q", name)
		}

		fields := strings.Split(rangeTxt, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid range %q for parameter %q: expected start:stop:step", rangeTxt, name)
		}
		start, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid start in range %q: %w", rangeTxt, err)
		}
		stop, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid stop in range %q: %w", rangeTxt, err)
		}
		step, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid step in range %q: %w", rangeTxt, err)
		}
		if step <= 0 {
			return nil, fmt.Errorf("step must be positive in range %q", rangeTxt)
		}
		if start > stop {
			return nil, fmt.Errorf("start %d exceeds stop %d in range %q", start, stop, rangeTxt)
		}

		seen[name] = struct{}{}
		ranges = append(ranges, ParamRange{Name: name, Start: start, Stop: stop, Step: step})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("grid spec %q contains no parameters", spec)
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Name < ranges[j].Name })
	return &Grid{ranges: ranges}, nil
}

// Size 未过滤的组合总数
func (g *Grid) Size() int {
	size := 1
	for _, r := range g.ranges {
		size *= len(r.Values())
	}
	return size
}

// Params 参数名列表，字典序
func (g *Grid) Params() []string {
	names := make([]string, len(g.ranges))
	for i, r := range g.ranges {
		names[i] = r.Name
	}
	return names
}

// Combos 展开笛卡尔积并按约束过滤。
// 枚举顺序固定：参数名字典序为高位、取值升序递增。
func (g *Grid) Combos(constraint *Constraint) []map[string]float64 {
	values := make([][]int, len(g.ranges))
	for i, r := range g.ranges {
		values[i] = r.Values()
	}

	var combos []map[string]float64
	indices := make([]int, len(g.ranges))
	for {
		combo := make(map[string]float64, len(g.ranges))
		for i, r := range g.ranges {
			combo[r.Name] = float64(values[i][indices[i]])
		}
		if constraint.Satisfied(combo) {
			combos = append(combos, combo)
		}

		// 末位参数递增，进位到高位
		pos := len(indices) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(values[pos]) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return combos
}

// Constraint 网格组合的布尔约束，如 "fast<slow"。
// 表达式编译或求值失败按"约束满足"处理，宁可多评估也不静默丢弃搜索空间。
type Constraint struct {
	raw  string
	prog *vm.Program
}

// NewConstraint 编译约束表达式，空字符串表示无约束
func NewConstraint(raw string) *Constraint {
	raw = strings.TrimSpace(raw)
	c := &Constraint{raw: raw}
	if raw == "" {
		return c
	}

	prog, err := expr.Compile(raw)
	if err != nil {
		logger.Warn(nil, "Constraint expression failed to compile, treating as satisfied",
			"constraint", raw, "error", err)
		return c
	}
	c.prog = prog
	return c
}

// Raw 原始表达式
func (c *Constraint) Raw() string {
	if c == nil {
		return ""
	}
	return c.raw
}

// Satisfied 判断组合是否满足约束
func (c *Constraint) Satisfied(params map[string]float64) bool {
	if c == nil || c.prog == nil {
		return true
	}

	env := make(map[string]any, len(params))
	for k, v := range params {
		env[k] = v
	}

	out, err := expr.Run(c.prog, env)
	if err != nil {
		return true
	}
	b, ok := out.(bool)
	if !ok {
		return true
	}
	return b
}
