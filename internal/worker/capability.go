package worker

// Capability 描述一类设备: 设备类型、设备标签以及参与求值的告警类别
type Capability struct {
	ThingType string
	Tags      []string
	SpecTags  []string
}

// SenecaCapability Seneca 温度传感器, base 为机架类型, 例如 sensor-rack
func SenecaCapability(base string) Capability {
	return Capability{
		ThingType: base + "-temp-seneca",
		Tags:      []string{"temp", "seneca"},
		SpecTags:  []string{"sensor"},
	}
}
