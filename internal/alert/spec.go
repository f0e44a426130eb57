package alert

import (
	"sync"

	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

// Info 设备的静态信息
type Info struct {
	Pos Position
}

// Context 告警判断所需的上下文, Conf 以告警名为 key
type Context struct {
	Info Info
	Conf map[string]pkg.AlertConf
}

// NewContext 根据位置标签和告警配置创建上下文
func NewContext(pos string, conf map[string]pkg.AlertConf) *Context {
	return &Context{Info: Info{Pos: ParsePosition(pos)}, Conf: conf}
}

// threshold 返回名为 name 的告警阈值
func (c *Context) threshold(name string) (float64, bool) {
	conf, ok := c.Conf[name]
	if !ok || conf.Params.Temp == nil {
		return 0, false
	}
	return *conf.Params.Temp, true
}

func (c *Context) hasConf(name string) bool {
	_, ok := c.Conf[name]
	return ok
}

// Predicate 无副作用的判断函数
type Predicate func(ctx *Context, snap *sensor.Snapshot) bool

// Spec 一条告警定义, Valid 与 Probe 同时为真时告警触发
type Spec struct {
	Name  string
	Valid Predicate
	Probe Predicate
}

// Signal 一条已触发的告警
type Signal struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	TempC     float64 `json:"temp_c"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Registry 按类别保存告警定义, 并发安全
type Registry struct {
	mu    sync.RWMutex
	specs map[string][]Spec
}

// NewRegistry 创建空的注册表
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string][]Spec)}
}

// Default 带有内置传感器告警的全局注册表
var Default = NewRegistry()

func init() {
	RegisterSensorSpecs(Default)
}

// Register 注册告警, 同名告警会被替换
func (r *Registry) Register(category string, spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	specs := r.specs[category]
	for i := range specs {
		if specs[i].Name == spec.Name {
			specs[i] = spec
			return
		}
	}
	r.specs[category] = append(specs, spec)
}

// Specs 返回某类别下的所有告警, 按注册顺序
func (r *Registry) Specs(category string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Spec(nil), r.specs[category]...)
}

// Get 按类别和名称查找告警
func (r *Registry) Get(category, name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, spec := range r.specs[category] {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// Evaluate 对 tags 中每个类别的告警求值, 返回触发的告警
func (r *Registry) Evaluate(tags []string, ctx *Context, snap *sensor.Snapshot) []Signal {
	var signals []Signal
	for _, tag := range tags {
		for _, spec := range r.Specs(tag) {
			if !spec.Valid(ctx, snap) || !spec.Probe(ctx, snap) {
				continue
			}
			threshold, _ := ctx.threshold(spec.Name)
			signals = append(signals, Signal{
				Name:      spec.Name,
				Category:  tag,
				TempC:     snap.Stats.TempC,
				Threshold: threshold,
			})
		}
	}
	return signals
}
