package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sensorgate/internal/alert"
	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

// Thing 一个接入的传感器
type Thing struct {
	ID   string
	Pos  string
	Opts pkg.ThingOpts

	alertCtx *alert.Context // 位置标签在接入时解析

	mu     sync.Mutex
	driver *sensor.Driver
	faults []sensor.FaultRecord // 断开时从驱动保存, 重新连接后恢复
}

// NewThing 创建设备, id 为空时自动生成
func NewThing(cfg pkg.ThingConfig, conf map[string]pkg.AlertConf) *Thing {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Thing{
		ID:       id,
		Pos:      cfg.Pos,
		Opts:     cfg.Opts,
		alertCtx: alert.NewContext(cfg.Pos, conf),
	}
}

// Driver 当前驱动, 未连接时为 nil
func (t *Thing) Driver() *sensor.Driver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.driver
}

// Position 解析后的位置
func (t *Thing) Position() alert.Position {
	return t.alertCtx.Info.Pos
}

// ThingInfo 对外展示的连接信息
type ThingInfo struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	UnitID  *int   `json:"unitId"`
}

// Report 一次轮询的结果
type Report struct {
	ID        string           `json:"id"`
	ThingID   string           `json:"thingId"`
	ThingType string           `json:"thingType"`
	Tags      []string         `json:"tags"`
	Pos       string           `json:"pos"`
	Info      ThingInfo        `json:"info"`
	Snap      *sensor.Snapshot `json:"snap"`
	Alerts    []alert.Signal   `json:"alerts"`
	Ts        time.Time        `json:"ts"`
}
