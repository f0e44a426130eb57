package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sensorgate/internal/connector"
	"sensorgate/internal/pkg"
)

// Options 驱动参数
type Options struct {
	Address  string
	Port     int
	UnitID   uint8
	Register uint16
	Timeout  time.Duration
}

// Driver Seneca 温度传感器驱动。构造时不建立连接, 需要显式调用 Connect
type Driver struct {
	opts    Options
	factory connector.FactoryFunc
	log     *zap.Logger

	connMu sync.Mutex
	client connector.Client

	mu       sync.RWMutex
	cache    float64
	hasCache bool
	lastSeen time.Time
	errLog   []FaultRecord // 只追加, 不会被后续正常读数清除
}

// New 创建驱动, factory 为空时返回 pkg.ErrNoClient
func New(opts Options, factory connector.FactoryFunc, log *zap.Logger) (*Driver, error) {
	if factory == nil {
		return nil, pkg.ErrNoClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = connector.DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		opts:    opts,
		factory: factory,
		log:     log.With(zap.String("address", opts.Address), zap.Int("port", opts.Port)),
	}, nil
}

// Connect 通过工厂建立连接, 已连接时直接返回
func (d *Driver) Connect(ctx context.Context) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.client != nil {
		return nil
	}
	client, err := d.factory(ctx, connector.Options{
		Address:  d.opts.Address,
		Port:     d.opts.Port,
		UnitID:   d.opts.UnitID,
		Protocol: "tcp",
		Timeout:  d.opts.Timeout,
	})
	if err != nil {
		return fmt.Errorf("传感器连接失败: %w", err)
	}
	d.client = client
	d.log.Debug("传感器已连接")
	return nil
}

// Close 释放连接, 可重复调用
func (d *Driver) Close() error {
	d.connMu.Lock()
	client := d.client
	d.client = nil
	d.connMu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (d *Driver) currentClient() connector.Client {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	return d.client
}

type readResult struct {
	data []byte
	err  error
}

// ReadValue 读取 1 个保持寄存器并换算为摄氏度。
// 超时返回 pkg.ErrTimeout, 迟到的结果会被丢弃, 不会更新缓存
func (d *Driver) ReadValue(ctx context.Context) (float64, error) {
	client := d.currentClient()
	if client == nil {
		return 0, pkg.ErrNotConnected
	}

	metrics := pkg.GetPerformanceMetrics()
	metrics.IncMsgReceived("sensor_read")
	timer := metrics.NewTimer("sensor_read")

	// 带缓冲, 超时后读协程也不会阻塞
	ch := make(chan readResult, 1)
	go func() {
		data, err := client.ReadHoldingRegisters(d.opts.Register, 1)
		ch <- readResult{data: data, err: err}
	}()

	tctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var res readResult
	select {
	case <-tctx.Done():
		metrics.IncMsgErrors("sensor_read")
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.log.Warn("读取寄存器超时", zap.Uint16("register", d.opts.Register), zap.Duration("timeout", d.opts.Timeout))
		return 0, pkg.ErrTimeout
	case res = <-ch:
	}
	timer.StopAndLog(d.log)

	if res.err != nil {
		metrics.IncMsgErrors("sensor_read")
		return 0, fmt.Errorf("读取寄存器 %d 失败: %w: %w", d.opts.Register, pkg.ErrTransport, res.err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// 设备有应答即视为在线
	d.lastSeen = time.Now()
	if len(res.data) < 2 {
		metrics.IncMsgErrors("sensor_read")
		return 0, pkg.ErrNoValue
	}
	d.cache = float64(binary.BigEndian.Uint16(res.data)) / 10
	d.hasCache = true
	metrics.IncMsgProcessed("sensor_read")
	return d.cache, nil
}

// DetectFault 值为 850.0 时追加一条故障记录, 返回是否存在任何故障以及全部记录
func (d *Driver) DetectFault(value float64) (bool, []FaultRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if value == FaultTemp {
		d.errLog = append(d.errLog, FaultRecord{Name: FaultSensorError})
		d.log.Warn("传感器上报故障值", zap.Float64("temp_c", value))
	}
	return len(d.errLog) > 0, append([]FaultRecord(nil), d.errLog...)
}

// BuildSnapshot 读取 (或使用缓存) 并生成快照, 读取错误原样返回
func (d *Driver) BuildSnapshot(ctx context.Context, useCache bool) (*Snapshot, error) {
	var value float64
	if useCache {
		var ok bool
		if value, ok = d.Cache(); !ok {
			return nil, pkg.ErrNoValue
		}
	} else {
		var err error
		if value, err = d.ReadValue(ctx); err != nil {
			return nil, err
		}
	}

	faulted, errs := d.DetectFault(value)
	stats := &Stats{Status: StatusOK, TempC: value}
	if faulted {
		stats.Status = StatusError
		stats.Errors = errs
	}
	return &Snapshot{
		Stats:  stats,
		Config: map[string]interface{}{},
		Ts:     time.Now(),
	}, nil
}

// Cache 最近一次成功解码的温度
func (d *Driver) Cache() (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache, d.hasCache
}

// LastSeen 最近一次收到设备应答的时间
func (d *Driver) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Errors 故障记录的拷贝
func (d *Driver) Errors() []FaultRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]FaultRecord(nil), d.errLog...)
}

// RestoreErrors 把之前驱动记录的故障追加到本驱动, 重新连接时使用
func (d *Driver) RestoreErrors(errs []FaultRecord) {
	if len(errs) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errLog = append(d.errLog, errs...)
}

// Options 驱动参数
func (d *Driver) Options() Options {
	return d.opts
}
