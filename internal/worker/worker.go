package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sensorgate/internal/alert"
	"sensorgate/internal/connector"
	"sensorgate/internal/pkg"
	"sensorgate/internal/sensor"
)

// Options worker 参数
type Options struct {
	Capability Capability
	Interval   time.Duration
	UseCache   bool
	Metrics    time.Duration // 性能指标输出周期, 0 表示不输出
	Factory    connector.FactoryFunc
	Registry   *alert.Registry
	AlertConf  map[string]pkg.AlertConf
}

// Worker 轮询一组传感器
type Worker struct {
	ctx  context.Context
	opts Options
	log  *zap.Logger

	mu     sync.RWMutex
	things []*Thing
	sinks  []chan *Report
}

// New 创建 worker
func New(ctx context.Context, opts Options) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Factory == nil {
		opts.Factory = connector.New
	}
	if opts.Registry == nil {
		opts.Registry = alert.Default
	}
	return &Worker{
		ctx:  ctx,
		opts: opts,
		log:  pkg.LoggerFromContext(ctx).With(zap.String("thingType", opts.Capability.ThingType)),
	}
}

// NewFromConfig 根据 context 中的配置创建 worker, 包括编译自定义告警和接入全部设备
func NewFromConfig(ctx context.Context) (*Worker, error) {
	config := pkg.ConfigFromContext(ctx)

	registry := alert.NewRegistry()
	alert.RegisterSensorSpecs(registry)
	if err := alert.RegisterCustom(registry, config.Alerts.Custom); err != nil {
		return nil, fmt.Errorf("加载自定义告警失败: %w", err)
	}

	w := New(ctx, Options{
		Capability: SenecaCapability(config.Worker.ThingType),
		Interval:   config.Worker.Interval,
		UseCache:   config.Worker.UseCache,
		Metrics:    config.Worker.Metrics,
		Registry:   registry,
		AlertConf:  config.Alerts.Conf,
	})
	for _, thg := range config.Things {
		w.AddThing(thg)
	}
	return w, nil
}

// AddThing 接入一个设备
func (w *Worker) AddThing(cfg pkg.ThingConfig) *Thing {
	thg := NewThing(cfg, w.opts.AlertConf)
	w.mu.Lock()
	w.things = append(w.things, thg)
	w.mu.Unlock()
	w.log.Info("接入设备", zap.String("thing", thg.ID), zap.String("pos", thg.Pos))
	return thg
}

// Things 返回全部设备
func (w *Worker) Things() []*Thing {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*Thing(nil), w.things...)
}

// Capability 设备能力描述
func (w *Worker) Capability() Capability {
	return w.opts.Capability
}

// AddSink 注册一个报告接收通道, 通道满时报告会被丢弃
func (w *Worker) AddSink(ch chan *Report) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinks = append(w.sinks, ch)
}

// SelectThingInfo 对外展示的连接信息
func (w *Worker) SelectThingInfo(thg *Thing) ThingInfo {
	return ThingInfo{
		Address: thg.Opts.Address,
		Port:    thg.Opts.Port,
		UnitID:  thg.Opts.UnitID,
	}
}

// ConnectThing 为设备创建并连接驱动。
// 地址、端口、unitId 或寄存器缺失时返回 false 且不报错
func (w *Worker) ConnectThing(ctx context.Context, thg *Thing) (bool, error) {
	o := thg.Opts
	if o.Address == "" || o.Port == 0 || o.UnitID == nil || o.Register == nil {
		return false, nil
	}

	thg.mu.Lock()
	defer thg.mu.Unlock()
	if thg.driver != nil {
		return true, nil
	}
	driver, err := sensor.New(sensor.Options{
		Address:  o.Address,
		Port:     o.Port,
		UnitID:   uint8(*o.UnitID),
		Register: uint16(*o.Register),
		Timeout:  o.Timeout,
	}, w.opts.Factory, w.log.With(zap.String("thing", thg.ID)))
	if err != nil {
		return false, err
	}
	if err := driver.Connect(ctx); err != nil {
		return false, err
	}
	driver.RestoreErrors(thg.faults)
	thg.faults = nil
	thg.driver = driver
	return true, nil
}

// DisconnectThing 关闭设备驱动, 下一次轮询时重新连接
func (w *Worker) DisconnectThing(thg *Thing) error {
	thg.mu.Lock()
	defer thg.mu.Unlock()
	driver := thg.driver
	if driver == nil {
		return nil
	}
	thg.driver = nil
	thg.faults = driver.Errors()
	return driver.Close()
}

// CollectThingSnap 由驱动读取一次并生成快照。
// UseCache 时, 超时或空应答会退回到最近一次成功的读数, 还没有读数时返回原错误
func (w *Worker) CollectThingSnap(ctx context.Context, thg *Thing) (*sensor.Snapshot, error) {
	driver := thg.Driver()
	if driver == nil {
		return nil, pkg.ErrNotConnected
	}
	snap, err := driver.BuildSnapshot(ctx, false)
	if err == nil || !w.opts.UseCache {
		return snap, err
	}
	if !errors.Is(err, pkg.ErrTimeout) && !errors.Is(err, pkg.ErrNoValue) {
		return nil, err
	}
	if _, ok := driver.Cache(); !ok {
		return nil, err
	}
	w.log.Debug("读取失败，使用缓存值", zap.String("thing", thg.ID), zap.Error(err))
	return driver.BuildSnapshot(ctx, true)
}

// connectionLost 只有传输层错误才需要重建连接, 超时和空应答保留驱动
func connectionLost(err error) bool {
	return errors.Is(err, pkg.ErrTransport) || errors.Is(err, pkg.ErrNotConnected)
}

// PollOnce 依次轮询所有设备并分发报告, 未配置完整的设备会被跳过
func (w *Worker) PollOnce(ctx context.Context) []*Report {
	var reports []*Report
	for _, thg := range w.Things() {
		report, ok := w.pollThing(ctx, thg)
		if !ok {
			continue
		}
		reports = append(reports, report)
		w.publish(report)
	}
	return reports
}

func (w *Worker) pollThing(ctx context.Context, thg *Thing) (*Report, bool) {
	log := w.log.With(zap.String("thing", thg.ID))

	connected, err := w.ConnectThing(ctx, thg)
	if err != nil {
		log.Warn("设备连接失败", zap.Error(err))
		return w.report(thg, sensor.OfflineSnapshot(time.Now()), nil), true
	}
	if !connected {
		log.Debug("设备参数不完整，跳过")
		return nil, false
	}

	snap, err := w.CollectThingSnap(ctx, thg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false
		}
		if !connectionLost(err) {
			log.Warn("读取设备失败", zap.Error(err))
			return w.report(thg, sensor.OfflineSnapshot(time.Now()), nil), true
		}
		log.Warn("连接失效，断开连接", zap.Error(err))
		if cerr := w.DisconnectThing(thg); cerr != nil {
			log.Warn("断开连接失败", zap.Error(cerr))
		}
		return w.report(thg, sensor.OfflineSnapshot(time.Now()), nil), true
	}
	if err := sensor.ValidateSnapshot(snap); err != nil {
		log.Error("快照结构不合法，丢弃", zap.Error(err))
		return nil, false
	}

	signals := w.opts.Registry.Evaluate(w.opts.Capability.SpecTags, thg.alertCtx, snap)
	for _, s := range signals {
		log.Info("告警触发", zap.String("alert", s.Name), zap.Float64("temp_c", s.TempC), zap.Float64("threshold", s.Threshold))
	}
	return w.report(thg, snap, signals), true
}

func (w *Worker) report(thg *Thing, snap *sensor.Snapshot, signals []alert.Signal) *Report {
	return &Report{
		ID:        uuid.NewString(),
		ThingID:   thg.ID,
		ThingType: w.opts.Capability.ThingType,
		Tags:      w.opts.Capability.Tags,
		Pos:       thg.Pos,
		Info:      w.SelectThingInfo(thg),
		Snap:      snap,
		Alerts:    signals,
		Ts:        snap.Ts,
	}
}

func (w *Worker) publish(report *Report) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.sinks {
		select {
		case ch <- report:
		default:
			w.log.Warn("sink 通道已满，丢弃报告", zap.String("thing", report.ThingID))
		}
	}
}

// Run 按周期轮询直到 ctx 结束, 退出时断开所有设备
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("===Worker Started===", zap.Duration("interval", w.opts.Interval), zap.Int("things", len(w.Things())))
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var metricsC <-chan time.Time
	if w.opts.Metrics > 0 {
		metricsTicker := time.NewTicker(w.opts.Metrics)
		defer metricsTicker.Stop()
		metricsC = metricsTicker.C
	}

	w.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			for _, thg := range w.Things() {
				if err := w.DisconnectThing(thg); err != nil {
					w.log.Warn("断开连接失败", zap.String("thing", thg.ID), zap.Error(err))
				}
			}
			w.log.Info("===Worker Stopped===")
			return
		case <-ticker.C:
			w.PollOnce(ctx)
		case <-metricsC:
			pkg.GetPerformanceMetrics().LogMetrics(w.log)
		}
	}
}
