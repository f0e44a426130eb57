package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

func init() {
	Register("prometheus", NewPrometheusSink)
}

// PrometheusInfo Prometheus 的专属配置, Port 为 0 时不启动 HTTP 服务
type PrometheusInfo struct {
	Port     int    `mapstructure:"port"`
	Endpoint string `mapstructure:"endpoint"`
}

// PrometheusSink 将报告转换为 gauge
type PrometheusSink struct {
	info   PrometheusInfo
	ctx    context.Context
	logger *zap.Logger

	registry *prometheus.Registry
	temp     *prometheus.GaugeVec
	faults   *prometheus.GaugeVec
	alerts   *prometheus.GaugeVec
	up       *prometheus.GaugeVec

	mu     sync.Mutex
	active map[string]map[string]struct{} // thing -> 上一次触发的告警
	server *http.Server
}

// NewPrometheusSink Step.0 构造函数
func NewPrometheusSink(ctx context.Context) (Template, error) {
	var info PrometheusInfo
	if err := decodeSinkConfig(ctx, "prometheus", &info); err != nil {
		return nil, err
	}
	p := newPrometheusSink(ctx, info)
	if info.Port > 0 {
		p.serve()
	}
	return p, nil
}

func newPrometheusSink(ctx context.Context, info PrometheusInfo) *PrometheusSink {
	if info.Endpoint == "" {
		info.Endpoint = "/metrics"
	}
	p := &PrometheusSink{
		info:     info,
		ctx:      ctx,
		logger:   pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "prometheus")),
		registry: prometheus.NewRegistry(),
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensor_temp_celsius",
			Help: "Last temperature read from the sensor",
		}, []string{"thing", "pos"}),
		faults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensor_fault_total",
			Help: "Number of faults recorded by the sensor driver",
		}, []string{"thing"}),
		alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensor_alert_active",
			Help: "1 while the alert is firing for the thing",
		}, []string{"thing", "alert"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensor_up",
			Help: "0 when the last poll of the thing was offline",
		}, []string{"thing"}),
		active: make(map[string]map[string]struct{}),
	}
	p.registry.MustRegister(p.temp, p.faults, p.alerts, p.up)
	return p
}

func (p *PrometheusSink) serve() {
	mux := http.NewServeMux()
	mux.Handle(p.info.Endpoint, p.Handler())
	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", p.info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		p.logger.Info("Prometheus HTTP 服务启动", zap.Int("port", p.info.Port), zap.String("endpoint", p.info.Endpoint))
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Prometheus HTTP 服务异常退出", zap.Error(err))
			pkg.ReportErr(p.ctx, fmt.Errorf("prometheus sink: %w", err))
		}
	}()
}

// Handler 暴露指标的 http.Handler
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry 指标注册表
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// GetType Step.1
func (p *PrometheusSink) GetType() string {
	return "prometheus"
}

// Start Step.2
func (p *PrometheusSink) Start(ch chan *worker.Report) {
	metrics := pkg.GetPerformanceMetrics()
	p.logger.Info("===PrometheusSink Started===")
OuterLoop:
	for {
		select {
		case <-p.ctx.Done():
			break OuterLoop
		case report, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			metrics.IncMsgReceived("prometheus_sink")
			if err := p.Publish(report); err != nil {
				metrics.IncMsgErrors("prometheus_sink")
				p.logger.Warn("发布指标失败", zap.Error(err))
				continue
			}
			metrics.IncMsgProcessed("prometheus_sink")
		}
	}
	p.stop()
	p.logger.Info("===PrometheusSink Stopped===")
}

// Publish 更新一个设备的指标
func (p *PrometheusSink) Publish(report *worker.Report) error {
	if report == nil || report.Snap == nil || report.Snap.Stats == nil {
		return fmt.Errorf("空报告")
	}
	thing := report.ThingID
	if report.Snap.IsOffline() {
		p.up.WithLabelValues(thing).Set(0)
	} else {
		p.up.WithLabelValues(thing).Set(1)
		p.temp.WithLabelValues(thing, report.Pos).Set(report.Snap.Stats.TempC)
		p.faults.WithLabelValues(thing).Set(float64(len(report.Snap.Stats.Errors)))
	}

	fired := make(map[string]struct{}, len(report.Alerts))
	for _, signal := range report.Alerts {
		fired[signal.Name] = struct{}{}
		p.alerts.WithLabelValues(thing, signal.Name).Set(1)
	}
	p.mu.Lock()
	for name := range p.active[thing] {
		if _, ok := fired[name]; !ok {
			p.alerts.WithLabelValues(thing, name).Set(0)
		}
	}
	p.active[thing] = fired
	p.mu.Unlock()
	return nil
}

func (p *PrometheusSink) stop() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warn("关闭 Prometheus HTTP 服务失败", zap.Error(err))
	}
}
