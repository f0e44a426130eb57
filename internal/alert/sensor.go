package alert

import "sensorgate/internal/sensor"

// SpecCategory 传感器告警注册的类别
const SpecCategory = "sensor"

// RegisterSensorSpecs 注册内置的温度告警
func RegisterSensorSpecs(r *Registry) {
	r.Register(SpecCategory, thresholdSpec("cabinet_temp_high", CategoryCabinet))
	r.Register(SpecCategory, thresholdSpec("cabinet_temp_alert", CategoryCabinet))
	r.Register(SpecCategory, thresholdSpec("oil_temp_high", CategoryTransformer))
	r.Register(SpecCategory, thresholdSpec("oil_temp_critical", CategoryTransformer))
}

// readable 快照可用于告警判断: 结构完整, 不是离线, 且不是故障值
func readable(snap *sensor.Snapshot) bool {
	return snap.IsValid() && !snap.IsOffline() && snap.Stats.TempC < sensor.FaultTemp
}

func thresholdSpec(name string, category Category) Spec {
	return Spec{
		Name: name,
		Valid: func(ctx *Context, snap *sensor.Snapshot) bool {
			return readable(snap) && ctx.hasConf(name) && ctx.Info.Pos.Category == category
		},
		Probe: func(ctx *Context, snap *sensor.Snapshot) bool {
			threshold, ok := ctx.threshold(name)
			return ok && snap.Stats.TempC > threshold
		},
	}
}
