package pkg

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// opStats 单类操作的计数
type opStats struct {
	received  atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
}

// PerformanceMetrics 进程内的运行计数, 读寄存器、协议请求、sink 发送都会记录到这里
type PerformanceMetrics struct {
	StartTime time.Time

	ErrorCount     atomic.Int64
	ProcessingTime atomic.Int64 // 纳秒
	ProcessedItems atomic.Int64

	ops sync.Map // string -> *opStats
}

// 全局性能指标实例
var (
	perfMetrics *PerformanceMetrics
	once        sync.Once
)

// GetPerformanceMetrics 返回性能指标实例
func GetPerformanceMetrics() *PerformanceMetrics {
	once.Do(func() {
		perfMetrics = &PerformanceMetrics{StartTime: time.Now()}
	})
	return perfMetrics
}

func (pm *PerformanceMetrics) op(name string) *opStats {
	if val, ok := pm.ops.Load(name); ok {
		return val.(*opStats)
	}
	actual, _ := pm.ops.LoadOrStore(name, &opStats{})
	return actual.(*opStats)
}

// IncErrorCount 增加全局错误计数并返回当前值
func (pm *PerformanceMetrics) IncErrorCount() int64 {
	return pm.ErrorCount.Add(1)
}

// IncMsgReceived 增加特定操作的接收计数并返回当前值
func (pm *PerformanceMetrics) IncMsgReceived(name string) int64 {
	return pm.op(name).received.Add(1)
}

// IncMsgProcessed 增加特定操作的成功计数并返回当前值
func (pm *PerformanceMetrics) IncMsgProcessed(name string) int64 {
	return pm.op(name).processed.Add(1)
}

// IncMsgErrors 增加特定操作的错误计数, 同时累加全局错误计数
func (pm *PerformanceMetrics) IncMsgErrors(name string) int64 {
	pm.IncErrorCount()
	return pm.op(name).errors.Add(1)
}

// GetMsgCount 获取特定操作的计数, statsType 为 received | processed | errors
func (pm *PerformanceMetrics) GetMsgCount(name string, statsType string) int64 {
	val, ok := pm.ops.Load(name)
	if !ok {
		return 0
	}
	s := val.(*opStats)
	switch statsType {
	case "received":
		return s.received.Load()
	case "processed":
		return s.processed.Load()
	case "errors":
		return s.errors.Load()
	default:
		return 0
	}
}

// LogMetrics 将性能指标写入日志
func (pm *PerformanceMetrics) LogMetrics(logger *zap.Logger) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var avg time.Duration
	if n := pm.ProcessedItems.Load(); n > 0 {
		avg = time.Duration(pm.ProcessingTime.Load() / n)
	}

	names := make([]string, 0)
	pm.ops.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)

	fields := []zap.Field{
		zap.Duration("uptime", time.Since(pm.StartTime)),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Uint64("memory_mb", mem.Alloc/1024/1024),
		zap.Int64("errors", pm.ErrorCount.Load()),
		zap.Duration("avg_processing", avg),
	}
	for _, name := range names {
		fields = append(fields, zap.Int64s(name, []int64{
			pm.GetMsgCount(name, "received"),
			pm.GetMsgCount(name, "processed"),
			pm.GetMsgCount(name, "errors"),
		}))
	}
	logger.Info("性能指标统计", fields...)
}

// Timer 简单的计时器结构体
type Timer struct {
	start   time.Time
	metrics *PerformanceMetrics
	name    string
}

// NewTimer 创建一个新的计时器
func (pm *PerformanceMetrics) NewTimer(name string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: pm,
		name:    name,
	}
}

// Stop 停止计时器并记录时间
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.metrics.ProcessingTime.Add(int64(duration))
	t.metrics.ProcessedItems.Add(1)
	return duration
}

// StopAndLog 停止计时器并记录到日志
func (t *Timer) StopAndLog(logger *zap.Logger) time.Duration {
	duration := t.Stop()
	logger.Debug("操作计时",
		zap.String("operation", t.name),
		zap.Duration("duration", duration),
	)
	return duration
}
