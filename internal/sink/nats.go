package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

func init() {
	Register("nats", NewNatsSink)
}

// natsConn 是 *nats.Conn 中用到的方法
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NatsInfo NATS 的专属配置
type NatsInfo struct {
	URL           string        `mapstructure:"url"`
	Subject       string        `mapstructure:"subject"` // 实际发布到 <subject>.<thing>
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"maxReconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnectWait"`
}

// NatsSink 将报告发布到 NATS
type NatsSink struct {
	conn   natsConn
	info   NatsInfo
	ctx    context.Context
	logger *zap.Logger
}

// NewNatsSink Step.0 构造函数
func NewNatsSink(ctx context.Context) (Template, error) {
	log := pkg.LoggerFromContext(ctx)
	var info NatsInfo
	if err := decodeSinkConfig(ctx, "nats", &info); err != nil {
		return nil, err
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("nats 配置缺少 subject")
	}
	if info.URL == "" {
		info.URL = nats.DefaultURL
	}
	if info.Name == "" {
		info.Name = "sensorgate"
	}
	if info.MaxReconnects == 0 {
		info.MaxReconnects = -1
	}
	if info.ReconnectWait == 0 {
		info.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(info.URL,
		nats.Name(info.Name),
		nats.MaxReconnects(info.MaxReconnects),
		nats.ReconnectWait(info.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS 连接断开", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 重新连接", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats 连接 %s 失败: %w", info.URL, err)
	}
	return newNatsSink(ctx, conn, info), nil
}

func newNatsSink(ctx context.Context, conn natsConn, info NatsInfo) *NatsSink {
	return &NatsSink{
		conn:   conn,
		info:   info,
		ctx:    ctx,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "nats"), zap.String("subject", info.Subject)),
	}
}

// GetType Step.1
func (n *NatsSink) GetType() string {
	return "nats"
}

// Start Step.2
func (n *NatsSink) Start(ch chan *worker.Report) {
	metrics := pkg.GetPerformanceMetrics()
	n.logger.Info("===NatsSink Started===")
OuterLoop:
	for {
		select {
		case <-n.ctx.Done():
			break OuterLoop
		case report, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			metrics.IncMsgReceived("nats_sink")
			if err := n.Publish(report); err != nil {
				metrics.IncMsgErrors("nats_sink")
				n.logger.Warn("NATS 发布失败", zap.Error(err))
				continue
			}
			metrics.IncMsgProcessed("nats_sink")
		}
	}
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("NATS drain 失败", zap.Error(err))
	}
	n.logger.Info("===NatsSink Stopped===")
}

// Subject 报告发布的 subject
func (n *NatsSink) Subject(report *worker.Report) string {
	return strings.TrimSuffix(n.info.Subject, ".") + "." + report.ThingID
}

// Publish 发布一个报告
func (n *NatsSink) Publish(report *worker.Report) error {
	if report == nil {
		return fmt.Errorf("空报告")
	}
	payload, err := encodeReport(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	subject := n.Subject(report)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("发布到 %s 失败: %w", subject, err)
	}
	return nil
}
