package alert

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

// Env 自定义告警表达式的执行环境
type Env struct {
	TempC        float64
	Status       string
	Faulted      bool
	Threshold    float64
	HasThreshold bool
	Category     string
	Rack         string
	Slot         int
}

// BuildAlertExprOptions 返回编译告警表达式的 expr 选项, 表达式必须返回 bool
func BuildAlertExprOptions() []expr.Option {
	return []expr.Option{
		expr.Env(Env{}),
		expr.AsBool(),
	}
}

func newEnv(name string, ctx *Context, snap *sensor.Snapshot) Env {
	threshold, ok := ctx.threshold(name)
	return Env{
		TempC:        snap.Stats.TempC,
		Status:       snap.Stats.Status,
		Faulted:      snap.Stats.Status == sensor.StatusError,
		Threshold:    threshold,
		HasThreshold: ok,
		Category:     string(ctx.Info.Pos.Category),
		Rack:         ctx.Info.Pos.Rack,
		Slot:         ctx.Info.Pos.Slot,
	}
}

func runBool(program *vm.Program, env Env) bool {
	out, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

// CompileCustom 编译一条自定义告警
//
// 输入:
//   - cfg: 告警名、适用类别 (lv|tr|空)、可选的 valid 表达式和必填的 probe 表达式
//
// 输出:
//   - Spec: 编译后的告警, 除 valid 表达式外还要求快照可读且类别匹配
//   - error: 表达式编译错误
func CompileCustom(cfg pkg.CustomAlertConfig) (Spec, error) {
	if cfg.Name == "" {
		return Spec{}, fmt.Errorf("自定义告警缺少 name")
	}
	category, ok := ParseCategory(cfg.Category)
	if !ok {
		return Spec{}, fmt.Errorf("自定义告警 %s 类别非法: %s", cfg.Name, cfg.Category)
	}
	if cfg.Probe == "" {
		return Spec{}, fmt.Errorf("自定义告警 %s 缺少 probe", cfg.Name)
	}
	probe, err := expr.Compile(cfg.Probe, BuildAlertExprOptions()...)
	if err != nil {
		return Spec{}, fmt.Errorf("编译告警 %s 的 probe 失败: %w", cfg.Name, err)
	}
	var valid *vm.Program
	if cfg.Valid != "" {
		if valid, err = expr.Compile(cfg.Valid, BuildAlertExprOptions()...); err != nil {
			return Spec{}, fmt.Errorf("编译告警 %s 的 valid 失败: %w", cfg.Name, err)
		}
	}

	name := cfg.Name
	return Spec{
		Name: name,
		Valid: func(ctx *Context, snap *sensor.Snapshot) bool {
			if !readable(snap) {
				return false
			}
			if category != CategoryUnknown && ctx.Info.Pos.Category != category {
				return false
			}
			return valid == nil || runBool(valid, newEnv(name, ctx, snap))
		},
		Probe: func(ctx *Context, snap *sensor.Snapshot) bool {
			return runBool(probe, newEnv(name, ctx, snap))
		},
	}, nil
}

// RegisterCustom 编译并注册配置中的全部自定义告警, 任一失败则返回错误
func RegisterCustom(r *Registry, cfgs []pkg.CustomAlertConfig) error {
	specs := make([]Spec, 0, len(cfgs))
	for _, cfg := range cfgs {
		spec, err := CompileCustom(cfg)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}
	for _, spec := range specs {
		r.Register(SpecCategory, spec)
	}
	return nil
}
