package sensor

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusOffline = "offline"

	// FaultTemp 传感器硬件故障时上报的温度
	FaultTemp = 850.0
	// FaultSensorError 故障记录名
	FaultSensorError = "sensor_error"
)

// FaultRecord 一条故障记录
type FaultRecord struct {
	Name string `json:"name"`
}

// Stats 快照中的运行状态
type Stats struct {
	Status string        `json:"status"`
	TempC  float64       `json:"temp_c"`
	Errors []FaultRecord `json:"errors,omitempty"`
}

// Snapshot 某一时刻的传感器状态
type Snapshot struct {
	Stats  *Stats                 `json:"stats"`
	Config map[string]interface{} `json:"config"`
	Ts     time.Time              `json:"ts"`
}

// OfflineSnapshot 读取失败时使用的快照
func OfflineSnapshot(ts time.Time) *Snapshot {
	return &Snapshot{
		Stats:  &Stats{Status: StatusOffline},
		Config: map[string]interface{}{},
		Ts:     ts,
	}
}

// IsValid 快照带有 stats 且温度是有限数
func (s *Snapshot) IsValid() bool {
	return s != nil && s.Stats != nil && !math.IsNaN(s.Stats.TempC) && !math.IsInf(s.Stats.TempC, 0)
}

// IsOffline 设备离线
func (s *Snapshot) IsOffline() bool {
	return s != nil && s.Stats != nil && s.Stats.Status == StatusOffline
}

const statsSchema = `{
  "type": "object",
  "required": ["stats", "config"],
  "properties": {
    "stats": {
      "type": "object",
      "required": ["status", "temp_c"],
      "properties": {
        "status": {"type": "string", "enum": ["ok", "error", "offline"]},
        "temp_c": {"type": "number"},
        "errors": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string"}}
          }
        }
      }
    },
    "config": {"type": "object"}
  }
}`

var snapshotSchema = mustSchema(statsSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("sensor: 快照 schema 非法: %v", err))
	}
	return schema
}

// ValidateSnapshot 校验快照的 JSON 结构
func ValidateSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("快照为空")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("快照序列化失败: %w", err)
	}
	result, err := snapshotSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("快照校验出错: %w", err)
	}
	if !result.Valid() {
		errMsg := "快照结构不合法:"
		for _, desc := range result.Errors() {
			errMsg += fmt.Sprintf(" %s: %s;", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}
