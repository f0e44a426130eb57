package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sensorgate/internal/pkg"
	"sensorgate/internal/worker"
)

func init() {
	Register("kafka", NewKafkaSink)
}

// kafkaWriter 是 *kafka.Writer 中用到的方法
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSinkConfig 包含 Kafka Sink 特定的配置
type KafkaSinkConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	Topic           string   `mapstructure:"topic"`
	Async           bool     `mapstructure:"async"`
	WriteTimeoutSec int      `mapstructure:"writeTimeoutSec"`
	ReadTimeoutSec  int      `mapstructure:"readTimeoutSec"`
	RequiredAcks    int      `mapstructure:"requiredAcks"` // -1 所有 ISR, 0 不确认, 其他为 leader 确认
}

// KafkaSink 将报告以 JSON 写入 Kafka, key 为设备 id
type KafkaSink struct {
	writer kafkaWriter
	config KafkaSinkConfig
	logger *zap.Logger
	ctx    context.Context
}

// NewKafkaSink 是创建 KafkaSink 的工厂函数
func NewKafkaSink(ctx context.Context) (Template, error) {
	var cfg KafkaSinkConfig
	if err := decodeSinkConfig(ctx, "kafka", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka 配置缺少 brokers")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka 配置缺少 topic")
	}
	if cfg.WriteTimeoutSec == 0 {
		cfg.WriteTimeoutSec = 10
	}
	if cfg.ReadTimeoutSec == 0 {
		cfg.ReadTimeoutSec = 10
	}
	acks := kafka.RequireOne
	switch cfg.RequiredAcks {
	case -1:
		acks = kafka.RequireAll
	case 0:
		acks = kafka.RequireNone
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一设备的报告落在同一分区
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		RequiredAcks: acks,
		Async:        cfg.Async,
	}
	ks := newKafkaSink(ctx, writer, cfg)
	ks.logger.Info("Kafka sink 初始化完成",
		zap.Strings("brokers", cfg.Brokers),
		zap.Bool("async", cfg.Async),
		zap.Int("acks", int(acks)),
	)
	return ks, nil
}

func newKafkaSink(ctx context.Context, writer kafkaWriter, cfg KafkaSinkConfig) *KafkaSink {
	return &KafkaSink{
		writer: writer,
		config: cfg,
		logger: pkg.LoggerFromContext(ctx).With(zap.String("sink_type", "kafka"), zap.String("topic", cfg.Topic)),
		ctx:    ctx,
	}
}

// GetType 返回 sink 的类型
func (ks *KafkaSink) GetType() string {
	return "kafka"
}

// Start 开始监听通道并将报告发送到 Kafka
func (ks *KafkaSink) Start(ch chan *worker.Report) {
	metrics := pkg.GetPerformanceMetrics()
	ks.logger.Info("===KafkaSink Started===")
	defer func() {
		if err := ks.writer.Close(); err != nil {
			ks.logger.Error("关闭 Kafka writer 失败", zap.Error(err))
		}
	}()

OuterLoop:
	for {
		select {
		case <-ks.ctx.Done():
			break OuterLoop
		case report, ok := <-ch:
			if !ok {
				break OuterLoop
			}
			metrics.IncMsgReceived("kafka_sink")
			timer := metrics.NewTimer("kafka_sink_write")
			err := ks.Publish(report)
			timer.StopAndLog(ks.logger)
			if err != nil {
				if ks.ctx.Err() != nil {
					// 关闭过程中的取消不计入错误
					ks.logger.Warn("Kafka 写入被取消", zap.Error(ks.ctx.Err()))
					continue
				}
				metrics.IncMsgErrors("kafka_sink")
				ks.logger.Error("写入 Kafka 失败", zap.Error(err))
				continue
			}
			metrics.IncMsgProcessed("kafka_sink")
		}
	}
	ks.logger.Info("===KafkaSink Stopped===")
}

// Publish 写入一个报告
func (ks *KafkaSink) Publish(report *worker.Report) error {
	if report == nil {
		return fmt.Errorf("空报告")
	}
	payload, err := encodeReport(report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}
	return ks.writer.WriteMessages(ks.ctx, kafka.Message{
		Key:   []byte(report.ThingID),
		Value: payload,
		Time:  report.Ts,
	})
}
